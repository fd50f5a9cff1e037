package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "lifejourney/pkg/logx"
)

// systemdNotifier reports lifecycle state to systemd when the process runs
// as a Type=notify unit. Outside systemd every call is a no-op.
type systemdNotifier struct {
	log      logx.Logger
	watchdog time.Duration
	notify   func(state string) (bool, error)
}

func newSystemdNotifier(log logx.Logger) *systemdNotifier {
	n := &systemdNotifier{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	if d, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Warn("systemd watchdog misconfigured", logx.Err(err))
	} else {
		n.watchdog = d
	}
	return n
}

func (n *systemdNotifier) send(state string) {
	if n == nil || n.notify == nil {
		return
	}
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *systemdNotifier) ready()     { n.send(daemon.SdNotifyReady) }
func (n *systemdNotifier) reloading() { n.send(daemon.SdNotifyReloading) }
func (n *systemdNotifier) stopping()  { n.send(daemon.SdNotifyStopping) }

func (n *systemdNotifier) watchdogInterval() time.Duration {
	if n == nil {
		return 0
	}
	return n.watchdog
}

// watchdogLoop pings at half the configured interval.
func (n *systemdNotifier) watchdogLoop(ctx context.Context) {
	t := time.NewTicker(n.watchdog / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
