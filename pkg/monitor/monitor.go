// Package monitor polls an asynchronous order until a terminal state inside a
// bounded window.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/pkg/venue"
)

// StatusSource resolves the current state of an order
type StatusSource interface {
	OrderStatus(ctx context.Context, orderID string) (*venue.Order, error)
}

// Outcome is the result of a monitoring run. A TIMEOUT state is inconclusive,
// not a failure: the order may still settle later out-of-band.
type Outcome struct {
	State venue.OrderState
	// Order is the last successfully observed order, nil if no poll succeeded
	Order *venue.Order
}

// Monitor waits on orders with a fixed poll interval and a hard deadline.
// Each run terminates deterministically at its timeout and leaves no polling
// behind.
type Monitor struct {
	source StatusSource
	logger *zap.Logger
}

// NewMonitor creates an order monitor over the given status source
func NewMonitor(source StatusSource, logger *zap.Logger) *Monitor {
	return &Monitor{
		source: source,
		logger: logger.Named("monitor"),
	}
}

// AwaitTerminal polls orderID until it reaches FULFILLED, CANCELLED or
// EXPIRED, returning immediately on the terminal state. When timeout elapses
// first the outcome is TIMEOUT.
func (m *Monitor) AwaitTerminal(ctx context.Context, orderID string, pollInterval, timeout time.Duration) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last *venue.Order
	for {
		order, err := m.source.OrderStatus(ctx, orderID)
		if err != nil {
			// Transient poll failures are retried until the deadline
			m.logger.Debug("Order status poll failed",
				zap.String("order_id", orderID),
				zap.Error(err))
		} else {
			last = order
			if order.State.Terminal() {
				return &Outcome{State: order.State, Order: order}, nil
			}
		}

		select {
		case <-ctx.Done():
			m.logger.Info("Order monitor timed out",
				zap.String("order_id", orderID),
				zap.Duration("timeout", timeout))
			return &Outcome{State: venue.OrderTimeout, Order: last}, nil
		case <-ticker.C:
		}
	}
}
