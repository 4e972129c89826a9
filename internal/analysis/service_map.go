package analysis

import "strconv"

// wellKnownPorts names the destination services shown in the dashboard and report.
var wellKnownPorts = map[int]string{
	20:   "FTP-DATA",
	21:   "FTP",
	22:   "SSH",
	23:   "Telnet",
	25:   "SMTP",
	53:   "DNS",
	67:   "DHCP",
	68:   "DHCP",
	80:   "HTTP",
	110:  "POP3",
	123:  "NTP",
	143:  "IMAP",
	443:  "HTTPS",
	993:  "IMAPS",
	3306: "MySQL",
	3389: "RDP",
	5353: "mDNS",
	5432: "PostgreSQL",
	6379: "Redis",
	8080: "HTTP-Alt",
}

// GetServiceName returns the common name for a port, or the port number as a string.
func GetServiceName(port int) string {
	if name, ok := wellKnownPorts[port]; ok {
		return name
	}
	return strconv.Itoa(port)
}
