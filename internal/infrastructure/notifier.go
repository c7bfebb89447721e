package infrastructure

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// DesktopNotifier surfaces terminal session events as desktop notifications.
// It implements domain.Publisher so it can be fanned into the same event
// path as the websocket hub; everything that is not a terminal status event
// is ignored.
type DesktopNotifier struct {
	config domain.NotificationConfig
	logger *zap.Logger
}

func NewDesktopNotifier(config domain.NotificationConfig, logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{config: config, logger: logger.Named("notifier")}
}

// Publish filters the event stream down to completed/failed statuses and
// turns them into notifications.
func (n *DesktopNotifier) Publish(event string, payload interface{}) {
	if !n.config.Enabled || event != domain.EventDownloadStatus {
		return
	}
	pe, ok := payload.(domain.ProgressEvent)
	if !ok || !pe.Status.IsTerminal() {
		return
	}

	var title, message string
	switch pe.Status {
	case domain.StateCompleted:
		title = "Download complete"
		message = fmt.Sprintf("Session %s finished", shortID(pe.SessionID))
	case domain.StateFailed:
		title = "Download failed"
		message = pe.ErrorDetail
		if message == "" {
			message = fmt.Sprintf("Session %s failed", shortID(pe.SessionID))
		}
	}

	if err := n.send(title, message); err != nil {
		n.logger.Warn("failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
	}
}

func (n *DesktopNotifier) send(title, message string) error {
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return exec.Command("osascript", "-e", script).Run()
	case "notify-send":
		return exec.Command("notify-send", title, message).Run()
	default:
		n.logger.Warn("unknown notification method", zap.String("method", n.config.Method))
		return nil
	}
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// MultiPublisher fans one event out to several publishers.
type MultiPublisher []domain.Publisher

func (m MultiPublisher) Publish(event string, payload interface{}) {
	for _, p := range m {
		p.Publish(event, payload)
	}
}
