package host

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
)

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier shows a message to the user. Implementations must not block.
type Notifier interface {
	Notify(message string, severity Severity)
}

// LogNotifier sends notifications to a logger, for the daemon.
type LogNotifier struct {
	Log logr.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(message string, severity Severity) {
	if severity == SeverityError {
		n.Log.Error(nil, message)
		return
	}
	n.Log.Info(message, "severity", string(severity))
}

// Terminal writes colored notifications, for the CLI.
type Terminal struct {
	mu  sync.Mutex
	Out io.Writer
}

// Notify implements Notifier.
func (t *Terminal) Notify(message string, severity Severity) {
	paint := color.New(color.FgGreen)
	switch severity {
	case SeverityWarning:
		paint = color.New(color.FgYellow)
	case SeverityError:
		paint = color.New(color.FgRed)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.Out, paint.Sprint(message))
}
