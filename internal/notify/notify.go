package notify

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gen2brain/beeep"
)

const appName = "shiftfill"

// SendNotification shows a desktop notification.
func SendNotification(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Notifier announces finished runs when enabled.
type Notifier struct {
	enabled bool
	send    func(title, message string) error
	logger  *slog.Logger
}

func New(enabled bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{enabled: enabled, send: SendNotification, logger: logger}
}

// RunDone reports a successful run of rows rows.
func (n *Notifier) RunDone(period string, rows int) {
	n.notify(appName, fmt.Sprintf("Time report for %s filled (%s)", period, plural(rows, "row")))
}

// RunFailed reports a run that ended in error.
func (n *Notifier) RunFailed(period, message string) {
	n.notify(appName+": run failed", period+": "+message)
}

func (n *Notifier) notify(title, message string) {
	if !n.enabled {
		return
	}
	if err := n.send(title, message); err != nil {
		n.logger.Warn("desktop notification failed", "error", err)
	}
}

func plural(n int, word string) string {
	s := fmt.Sprintf("%d %s", n, word)
	if n != 1 {
		s += "s"
	}
	return s
}
