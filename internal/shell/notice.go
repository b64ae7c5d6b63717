package shell

import (
	"log/slog"
	"time"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
)

// NoticeDuration is how long a client shows a notice.
const NoticeDuration = 3 * time.Second

// Notice is a transient message for the user.
type Notice struct {
	Message   string          `json:"message"`
	Severity  domain.Severity `json:"severity"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Notifier publishes notices.
type Notifier struct {
	pub    events.Publisher
	clock  clock.Clock
	logger *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(pub events.Publisher, c clock.Clock, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: events.OrNop(pub), clock: clock.OrReal(c), logger: logger}
}

// Show publishes a notice.
func (n *Notifier) Show(message string, severity domain.Severity) Notice {
	if severity == "" {
		severity = domain.SeverityInfo
	}
	notice := Notice{Message: message, Severity: severity, ExpiresAt: n.clock.Now().Add(NoticeDuration)}
	n.logger.Info("Notice", "severity", severity, "message", message)
	n.pub.Publish(events.TypeNotice, "", notice)
	return notice
}
