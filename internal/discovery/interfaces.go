package discovery

import (
	"fmt"
	"net"
)

// Lister enumerates capturable interfaces.
type Lister func() ([]Interface, error)

// List returns every interface that is up and has a non-loopback IPv4 address.
func List() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("could not list interfaces: %w", err)
	}
	return selectInterfaces(ifaces, func(iface net.Interface) ([]net.Addr, error) {
		return iface.Addrs()
	}), nil
}

// selectInterfaces keeps active interfaces with a usable IPv4 address. Interfaces whose
// addresses cannot be read are skipped.
func selectInterfaces(ifaces []net.Interface, addrsOf func(net.Interface) ([]net.Addr, error)) []Interface {
	result := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := addrsOf(iface)
		if err != nil {
			continue
		}

		ip := firstIPv4(addrs)
		if ip == nil || ip.IsLoopback() {
			continue
		}

		result = append(result, Interface{
			Name: iface.Name,
			IP:   ip,
			MAC:  iface.HardwareAddr,
		})
	}
	return result
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}
