package connection

// State is the lifecycle state of the single connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Status is a read-only snapshot taken at a state transition. Empty strings
// stand for absent values.
type Status struct {
	State          State  `json:"state"`
	Host           string `json:"host,omitempty"`
	Error          string `json:"error,omitempty"`
	RemoteDataRoot string `json:"remoteDataRoot,omitempty"`
}

// TestResult reports the outcome of TestConnection.
type TestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
