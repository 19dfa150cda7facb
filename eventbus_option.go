package cyibot

import "github.com/ZanzyTHEbar/cyibot/internal/eventbus"

// WithEventBus publishes turn lifecycle events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(r *Router) {
		r.eventBus = bus
	}
}
