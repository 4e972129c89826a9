package models

// Server -> client message types.
const (
	MessagePackets   = "packets"
	MessageAnomalies = "anomalies"
)

// Client -> server control message types.
const (
	ControlPause  = "pause"
	ControlResume = "resume"
	ControlFilter = "filter"
)

// Handshake is the first payload a subscriber sends after connecting.
type Handshake struct {
	Interface      string `json:"interface"`
	IsPaused       bool   `json:"isPaused"`
	ProtocolFilter string `json:"protocolFilter"`
}

// ControlMessage is an inbound command from an active subscriber.
type ControlMessage struct {
	Type     string `json:"type"`
	Protocol string `json:"protocol,omitempty"`
}

// PacketsMessage carries one batch of records.
type PacketsMessage struct {
	Type string         `json:"type"`
	Data []PacketRecord `json:"data"`
}

// AnomaliesMessage carries the findings of one batch.
type AnomaliesMessage struct {
	Type string           `json:"type"`
	Data []AnomalyFinding `json:"data"`
}

// InterfaceInfo describes one capturable interface.
type InterfaceInfo struct {
	Name string  `json:"name"`
	IP   string  `json:"ip"`
	MAC  *string `json:"mac"`
}

// InterfacesResponse is the body of the interface query endpoint.
type InterfacesResponse struct {
	Interfaces []InterfaceInfo `json:"interfaces"`
}
