// Package logging builds the process logger and logs router lifecycle
// events published on the event bus.
package logging

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/cyibot/internal/eventbus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. format is "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format '%s'", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// EventLogger writes router events to a logger.
type EventLogger struct {
	logger         *zap.Logger
	bus            eventbus.EventBus
	subscriptionID string
}

// SubscribeEventLogger registers an EventLogger for every event on bus.
func SubscribeEventLogger(bus eventbus.EventBus, logger *zap.Logger) (*EventLogger, error) {
	el := &EventLogger{logger: logger.Named("events"), bus: bus}
	id, err := bus.SubscribeAll(el.Handle)
	if err != nil {
		return nil, err
	}
	el.subscriptionID = id
	return el, nil
}

// Handle logs one event. Failures and resets log at warn level.
func (l *EventLogger) Handle(ctx context.Context, event eventbus.Event) error {
	fields := make([]zap.Field, 0, len(event.Metadata())+3)
	fields = append(fields,
		zap.String("event_type", string(event.Type())),
		zap.String("source", event.Source()),
	)
	if p := event.Payload(); p != nil {
		fields = append(fields, zap.Any("payload", p))
	}
	for k, v := range event.Metadata() {
		fields = append(fields, zap.Any(k, v))
	}

	switch event.Type() {
	case eventbus.EventTurnFailed, eventbus.EventToolFailure, eventbus.EventSynthesisFailure,
		eventbus.EventRoutingFallback, eventbus.EventSessionReset, eventbus.EventSystemWarning:
		l.logger.Warn("router event", fields...)
	case eventbus.EventSystemError:
		l.logger.Error("router event", fields...)
	default:
		l.logger.Debug("router event", fields...)
	}
	return nil
}

// Close unsubscribes the logger.
func (l *EventLogger) Close() error {
	return l.bus.Unsubscribe(l.subscriptionID)
}
