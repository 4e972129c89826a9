package discovery

import (
	"net"

	"netfeed/internal/models"
)

// Interface is a capturable network interface.
type Interface struct {
	Name string
	IP   net.IP           // First IPv4 address
	MAC  net.HardwareAddr // Empty for interfaces without a link-layer address
}

// Info converts the interface into its wire form.
func (i Interface) Info() models.InterfaceInfo {
	info := models.InterfaceInfo{Name: i.Name, IP: i.IP.String()}
	if len(i.MAC) > 0 {
		mac := i.MAC.String()
		info.MAC = &mac
	}
	return info
}
