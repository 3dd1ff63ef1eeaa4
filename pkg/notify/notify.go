// Package notify provides concrete delivery sinks for swap lifecycle events.
package notify

import (
	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/pkg/coordinator"
)

// LogSink writes every swap transition to the structured log
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Notify(swapID string, ev coordinator.Event) {
	s.logger.Info("swap event",
		zap.String("swap_id", swapID),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.Time("at", ev.At))
}

// ChanSink forwards transitions to a channel without ever blocking the
// coordinator. When the buffer is full the event is dropped; consumers that
// need a complete history should query swap state instead.
type ChanSink struct {
	events chan coordinator.Event
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{events: make(chan coordinator.Event, buffer)}
}

func (s *ChanSink) Notify(swapID string, ev coordinator.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// Events exposes the delivery channel
func (s *ChanSink) Events() <-chan coordinator.Event {
	return s.events
}
