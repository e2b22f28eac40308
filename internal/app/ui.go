package app

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/bridge"
	"github.com/dshills/cmdcenter/internal/hostos"
)

// hostUI is handed to service modules and the bridge before the hub
// exists. Events raised before bind are dropped.
type hostUI struct {
	notifier hostos.Notifier
	logger   *zap.Logger

	mu  sync.RWMutex
	hub *bridge.Hub
}

func newHostUI(n hostos.Notifier, logger *zap.Logger) *hostUI {
	return &hostUI{notifier: n, logger: logger}
}

func (u *hostUI) bind(h *bridge.Hub) {
	u.mu.Lock()
	u.hub = h
	u.mu.Unlock()
}

func (u *hostUI) current() *bridge.Hub {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hub
}

// Notify shows a system notification.
func (u *hostUI) Notify(title, body string) error {
	return u.notifier.Notify(title, body)
}

// Send delivers a plugin event to connected surfaces.
func (u *hostUI) Send(pluginID, channel string, payload any) error {
	h := u.current()
	if h == nil {
		u.logger.Debug("event dropped, no surfaces yet",
			zap.String("plugin", pluginID), zap.String("channel", channel))
		return nil
	}
	return h.Send(pluginID, channel, payload)
}

// Broadcast delivers ev to every surface.
func (u *hostUI) Broadcast(ev bridge.Event) {
	h := u.current()
	if h == nil {
		u.logger.Debug("event dropped, no surfaces yet", zap.String("event", ev.Event))
		return
	}
	h.Broadcast(ev)
}
