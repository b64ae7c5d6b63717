package domain

// Severity classifies a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one line of the shared log surface.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Snapshot is an exported data document.
type Snapshot struct {
	ID         string `json:"id,omitempty"`
	Kind       string `json:"kind"`
	Timestamp  string `json:"timestamp"`
	Payload    any    `json:"payload"`
	ExportedBy string `json:"exportedBy"`
}

// Snapshot kinds.
const (
	SnapshotLog         = "log"
	SnapshotBattery     = "battery"
	SnapshotCalibration = "calibration"
)
