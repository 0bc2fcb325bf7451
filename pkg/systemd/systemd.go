// Package systemd reports service state over the sd_notify protocol.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "timelapse/pkg/logx"
)

// Notifier sends sd_notify messages. A disabled notifier is a no-op, and so
// is an enabled one running outside systemd (no NOTIFY_SOCKET).
type Notifier struct {
	enabled bool
	log     logx.Logger
}

func NewNotifier(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: enabled, log: log}
}

func (n *Notifier) Enabled() bool { return n != nil && n.enabled }

func (n *Notifier) Ready() bool    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Watchdog() bool { return n.send(daemon.SdNotifyWatchdog) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) bool { return n.send("STATUS=" + msg) }

func (n *Notifier) send(state string) bool {
	if !n.Enabled() {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// WatchdogInterval is half the unit's WatchdogSec, or 0 when the watchdog is
// not armed for this process.
func (n *Notifier) WatchdogInterval() time.Duration {
	if !n.Enabled() {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog lookup failed", logx.Err(err))
		return 0
	}
	return d / 2
}
