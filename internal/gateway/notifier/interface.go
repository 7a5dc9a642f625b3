package notifier

import "autohelm/internal/logger"

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}

// Noop swallows every message. Used when notifications are disabled.
type Noop struct{}

func (Noop) SendText(string) error { return nil }

// Dispatch delivers msg on a background goroutine. Delivery failures are
// logged and never reach the caller; trading flow must not depend on the
// notification channel being up.
func Dispatch(n TextNotifier, msg Message) {
	if n == nil {
		return
	}
	text := msg.Render()
	go func() {
		if err := n.SendText(text); err != nil {
			logger.Warnf("notifier: dropped %q: %v", msg.Title, err)
		}
	}()
}
