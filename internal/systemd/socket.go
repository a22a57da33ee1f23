// Package systemd integrates with systemd socket activation and
// readiness notification.
package systemd

import (
	"fmt"
	"net"
	"os"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listeners holds systemd-activated listeners.
type Listeners struct {
	API       net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves socket-activated file descriptors. Names are
// assigned in webtally.socket via FileDescriptorName= and require
// systemd 227+. Returns Activated=false when not socket-activated.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false)
	if len(fds) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := named["api"]; ok && len(lns) > 0 {
		listeners.API = lns[0]
	}
	if lns, ok := named["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 to systemd. Not running under systemd is
// not an error.
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 to systemd.
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// IsSystemdService reports whether the process runs under a systemd
// service with a notify socket.
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
