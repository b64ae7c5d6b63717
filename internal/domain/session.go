package domain

// ConnectionStatus is the adapter connection state.
type ConnectionStatus string

const (
	// Disconnected means no adapter is connected.
	Disconnected ConnectionStatus = "disconnected"
	// Connecting means a connect is in flight.
	Connecting ConnectionStatus = "connecting"
	// Connected means the selected adapter is connected.
	Connected ConnectionStatus = "connected"
)

// SessionState is the process-wide shell state read by every module.
type SessionState struct {
	ConnectionStatus  ConnectionStatus `json:"connection_status"`
	SelectedAdapterID string           `json:"selected_adapter_id,omitempty"`
	CurrentViewID     string           `json:"current_view_id"`
	Adapters          []string         `json:"adapters,omitempty"`
}
