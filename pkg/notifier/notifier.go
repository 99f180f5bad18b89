// Package notifier provides desktop notifications for pipeline runs
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/ltrt/ltrt/pkg/logger"
)

// SendFunc delivers one notification
type SendFunc func(title, message string) error

// PipelineNotifier reports run start and stop on the desktop
type PipelineNotifier struct {
	enabled bool
	sound   bool
	logger  logger.Logger
	send    SendFunc
}

// Config represents notification configuration
type Config struct {
	Enabled bool

	// Sound beeps on failures
	Sound bool
}

// New creates a notifier backed by beeep
func New(config Config, log logger.Logger) *PipelineNotifier {
	return NewWithSender(config, log, func(title, message string) error {
		return beeep.Notify(title, message, "")
	})
}

// NewWithSender creates a notifier delivering through send
func NewWithSender(config Config, log logger.Logger, send SendFunc) *PipelineNotifier {
	return &PipelineNotifier{
		enabled: config.Enabled,
		sound:   config.Sound,
		logger:  log,
		send:    send,
	}
}

// NotifyStarted notifies that a run is processing frames
func (n *PipelineNotifier) NotifyStarted(runID string, cameras int) {
	if !n.enabled {
		return
	}
	n.sendNotification("ltrt", fmt.Sprintf("%s running with %d cameras", runID, cameras))
}

// NotifyStopped notifies that a run ended. A nil cause is a requested stop.
func (n *PipelineNotifier) NotifyStopped(runID string, cause error, clean bool, elapsed time.Duration) {
	if !n.enabled {
		return
	}

	switch {
	case cause == nil:
		n.sendNotification("✅ Pipeline stopped", fmt.Sprintf("%s stopped after %s", runID, formatDuration(elapsed)))
	case clean:
		n.sendNotification("✅ Pipeline finished", fmt.Sprintf("%s: %v after %s", runID, cause, formatDuration(elapsed)))
	default:
		n.sendNotification("❌ Pipeline failed", fmt.Sprintf("%s: %v", runID, cause))
		if n.sound {
			if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
				n.logger.Debug("Failed to play sound", logger.WithError(err))
			}
		}
	}
}

func (n *PipelineNotifier) sendNotification(title, message string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
