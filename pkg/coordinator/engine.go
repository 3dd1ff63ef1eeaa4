package coordinator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/internal/metrics"
)

// Engine is the background settlement loop. Each tick it walks every open
// swap and submits at most one settlement action per swap: redeem once the
// secret is revealed on the destination leg, refund once the timelock
// elapses. Actions are idempotent across ticks; the on-chain lock state is
// consulted before any submission.
type Engine struct {
	coord    *Coordinator
	interval time.Duration
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewEngine(coord *Coordinator, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		coord:    coord,
		interval: interval,
		logger:   logger.With(zap.String("component", "settlement-engine")),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the settlement loop
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
	e.logger.Info("settlement engine started", zap.Duration("interval", e.interval))
}

// Stop signals the loop and blocks until the in-flight tick finishes
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("settlement engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one settlement pass over every open swap
func (e *Engine) Tick(ctx context.Context) {
	for _, id := range e.coord.openSwapIDs() {
		e.settle(ctx, id)
	}
}

func (e *Engine) settle(ctx context.Context, id string) {
	c := e.coord

	c.mu.RLock()
	sw := c.swaps[id]
	lock := c.swapLocks[id]
	c.mu.RUnlock()
	if sw == nil {
		return
	}
	// a tick still working this swap wins; skip rather than queue
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	if sw.State.Terminal() {
		return
	}
	logger := e.logger.With(zap.String("swap_id", sw.ID), zap.String("order_id", sw.OrderID))

	// an account-based leg already marked redeemed completes once the lock
	// confirms settlement on chain
	if sw.State == StateRedeemed {
		if sw.signer == nil {
			c.transition(ctx, sw, StateComplete)
			return
		}
		state, err := c.lock.State(ctx, sw.SecretHash)
		if err != nil {
			logger.Warn("lock state check failed", zap.Error(err))
			return
		}
		if state.Redeemed {
			c.transition(ctx, sw, StateComplete)
		}
		return
	}

	status, err := c.liquidity.Status(ctx, sw.OrderID)
	if err != nil {
		logger.Warn("order status check failed", zap.Error(err))
		metrics.SettlementActions.WithLabelValues("status", "failed").Inc()
		return
	}

	if len(status.RevealedSecret) > 0 {
		if sum := sha256.Sum256(status.RevealedSecret); !bytes.Equal(sum[:], sw.SecretHash[:]) {
			logger.Error("revealed secret does not match secret hash")
			return
		}
		e.redeem(ctx, sw, status.RevealedSecret, logger)
		return
	}

	if !time.Now().Before(sw.Timelock) {
		e.refund(ctx, sw, logger)
	}
}

func (e *Engine) redeem(ctx context.Context, sw *Swap, secret []byte, logger *zap.Logger) {
	c := e.coord

	// UTXO legs settle network-side; the revealed secret is the settlement
	if sw.signer == nil {
		c.transition(ctx, sw, StateRedeemed)
		c.transition(ctx, sw, StateComplete)
		metrics.SettlementActions.WithLabelValues("redeem", "success").Inc()
		return
	}

	state, err := c.lock.State(ctx, sw.SecretHash)
	if err != nil {
		logger.Warn("lock state check failed", zap.Error(err))
		return
	}
	if state.Settled() {
		// the lock may already have been refunded by the time the secret
		// shows up; the on-chain outcome wins
		if state.Refunded {
			c.transition(ctx, sw, StateRefunded)
		} else {
			c.transition(ctx, sw, StateRedeemed)
		}
		return
	}

	txHash, err := c.lock.Redeem(ctx, sw.signer, sw.SecretHash, secret)
	if err != nil {
		logger.Error("redeem submission failed", zap.Error(err))
		metrics.SettlementActions.WithLabelValues("redeem", "failed").Inc()
		return
	}
	c.mu.Lock()
	sw.RedeemTxHash = txHash.Hex()
	c.mu.Unlock()
	metrics.SettlementActions.WithLabelValues("redeem", "success").Inc()
	logger.Info("redeem submitted", zap.String("tx_hash", sw.RedeemTxHash))
	c.transition(ctx, sw, StateRedeemed)
}

func (e *Engine) refund(ctx context.Context, sw *Swap, logger *zap.Logger) {
	c := e.coord

	// nothing was locked yet for an unfunded UTXO leg; the network returns
	// any late deposit to the refund address
	if sw.signer == nil {
		c.transition(ctx, sw, StateRefunded)
		metrics.SettlementActions.WithLabelValues("refund", "success").Inc()
		return
	}

	state, err := c.lock.State(ctx, sw.SecretHash)
	if err != nil {
		logger.Warn("lock state check failed", zap.Error(err))
		return
	}
	if state.Settled() {
		if state.Refunded {
			c.transition(ctx, sw, StateRefunded)
		} else {
			c.transition(ctx, sw, StateRedeemed)
		}
		return
	}

	txHash, err := c.lock.Refund(ctx, sw.signer, sw.SecretHash)
	if err != nil {
		logger.Error("refund submission failed", zap.Error(err))
		metrics.SettlementActions.WithLabelValues("refund", "failed").Inc()
		return
	}
	c.mu.Lock()
	sw.RefundTxHash = txHash.Hex()
	c.mu.Unlock()
	metrics.SettlementActions.WithLabelValues("refund", "success").Inc()
	logger.Info("refund submitted",
		zap.String("tx_hash", sw.RefundTxHash),
		zap.Time("timelock", sw.Timelock))
	c.transition(ctx, sw, StateRefunded)
}
