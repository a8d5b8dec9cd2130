package protocol

// HostInfo is the immutable identity of the bridge process, surfaced to MCP
// clients during the capability handshake and to the companion in status
// replies.
type HostInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	RunMode string `json:"runMode"`
}

// HostStatus is the payload of a "status" control reply.
type HostStatus struct {
	HostInfo
	IsConnected bool   `json:"isConnected"`
	StartTime   int64  `json:"startTime"`
	LastPing    int64  `json:"lastPing"`
	SSEPort     string `json:"ssePort,omitempty"`
	SSEBaseURL  string `json:"sseBaseUrl,omitempty"`
}
