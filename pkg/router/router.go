// Package router implements best-execution routing across registered trading
// venues.
package router

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/internal/metrics"
	"github.com/chainswap/swap-engine/pkg/allowance"
	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/venue"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// BalanceReader is the slice of the chain client the router needs for
// pre-flight checks
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner common.Address, a asset.Asset) (*big.Int, error)
}

// AllowanceEnsurer guarantees a spender may pull the sell asset
type AllowanceEnsurer interface {
	EnsureAllowance(ctx context.Context, w *wallet.EvmWallet, a asset.Asset, spender common.Address, requiredAmount *big.Int) (*allowance.Result, error)
}

// ExecutionOutcome is the result of a routed swap
type ExecutionOutcome struct {
	Order *venue.Order
	Quote *venue.Quote
	// ApprovalTxHash is set when the route required a fresh approval
	ApprovalTxHash *common.Hash
}

// Router fans quote requests out to every registered adapter, picks the
// winner, and executes only there. Adapter registration order is the fixed
// venue priority used to break buy-amount ties.
type Router struct {
	adapters     []venue.Adapter
	balances     BalanceReader
	allowances   AllowanceEnsurer
	quoteTimeout time.Duration
	logger       *zap.Logger
}

// NewRouter creates a router over the given adapters. Slice order is the
// deterministic venue priority.
func NewRouter(adapters []venue.Adapter, balances BalanceReader, allowances AllowanceEnsurer, quoteTimeout time.Duration, logger *zap.Logger) *Router {
	return &Router{
		adapters:     adapters,
		balances:     balances,
		allowances:   allowances,
		quoteTimeout: quoteTimeout,
		logger:       logger.Named("router"),
	}
}

type quoteResult struct {
	priority int
	venueID  string
	quote    *venue.Quote
	err      error
}

// RouteBestSwap quotes every venue, executes the best quote, and returns the
// outcome. Losing venues are never executed against.
func (r *Router) RouteBestSwap(ctx context.Context, w wallet.Wallet, sell, buy asset.Asset, sellAmount *big.Int, slippageBps int) (*ExecutionOutcome, error) {
	evmWallet, ok := w.(*wallet.EvmWallet)
	if !ok {
		return nil, apperrors.UnsupportedChainPair("same-chain routing requires an account-based wallet")
	}
	if len(r.adapters) == 0 {
		return nil, apperrors.NoLiquidity(nil)
	}

	req := venue.QuoteRequest{
		Sell:        sell,
		Buy:         buy,
		SellAmount:  sellAmount,
		SlippageBps: slippageBps,
	}

	best, failures := r.fanOut(ctx, req)
	if best == nil {
		metrics.ErrorsTotal.WithLabelValues("router", apperrors.KindNoLiquidity.String()).Inc()
		return nil, apperrors.NoLiquidity(failures)
	}

	winner := r.adapters[best.priority]
	r.logger.Info("Selected winning venue",
		zap.String("venue", best.venueID),
		zap.String("buy_amount", best.quote.BuyAmount.String()),
		zap.Int("losing_venues", len(failures)))

	// Pre-flight: the wallet must cover the sell before anything is executed
	balance, err := r.balances.BalanceOf(ctx, evmWallet.CommonAddress(), sell)
	if err != nil {
		return nil, apperrors.VenueUnavailable(err, "", "balance pre-flight read failed")
	}
	if balance.Cmp(sellAmount) < 0 {
		return nil, apperrors.InsufficientBalance(
			"wallet holds " + balance.String() + " " + sell.Symbol + ", needs " + sellAmount.String())
	}

	outcome := &ExecutionOutcome{Quote: best.quote}

	if !sell.IsNative() {
		result, err := r.allowances.EnsureAllowance(ctx, evmWallet, sell, winner.Spender(), sellAmount)
		if err != nil {
			return nil, err
		}
		if !result.AlreadySufficient {
			hash := result.TxHash
			outcome.ApprovalTxHash = &hash
		}
	}

	order, err := winner.ExecuteSwap(ctx, evmWallet, best.quote)
	if err != nil {
		metrics.RoutesTotal.WithLabelValues(best.venueID, "failed").Inc()
		return nil, err
	}

	metrics.RoutesTotal.WithLabelValues(best.venueID, "executed").Inc()
	outcome.Order = order
	return outcome, nil
}

// fanOut quotes all adapters in parallel and waits for the full set: picking
// a winner needs every available price, so there is no early exit.
func (r *Router) fanOut(ctx context.Context, req venue.QuoteRequest) (*quoteResult, map[string]error) {
	results := make([]quoteResult, len(r.adapters))

	var wg sync.WaitGroup
	for i, adapter := range r.adapters {
		wg.Add(1)
		go func(priority int, adapter venue.Adapter) {
			defer wg.Done()

			quoteCtx, cancel := context.WithTimeout(ctx, r.quoteTimeout)
			defer cancel()

			start := time.Now()
			quote, err := adapter.GetQuote(quoteCtx, req)
			metrics.QuoteDuration.WithLabelValues(adapter.ID()).Observe(time.Since(start).Seconds())

			if err != nil {
				metrics.QuotesTotal.WithLabelValues(adapter.ID(), "error").Inc()
				results[priority] = quoteResult{priority: priority, venueID: adapter.ID(), err: err}
				return
			}
			metrics.QuotesTotal.WithLabelValues(adapter.ID(), "ok").Inc()
			results[priority] = quoteResult{priority: priority, venueID: adapter.ID(), quote: quote}
		}(i, adapter)
	}
	wg.Wait()

	var best *quoteResult
	failures := make(map[string]error)
	for i := range results {
		res := &results[i]
		if res.err != nil {
			r.logger.Debug("Venue failed to quote",
				zap.String("venue", res.venueID),
				zap.Error(res.err))
			failures[res.venueID] = res.err
			continue
		}
		// Strictly greater keeps the earlier (higher-priority) venue on ties
		if best == nil || res.quote.BuyAmount.Cmp(best.quote.BuyAmount) > 0 {
			best = res
		}
	}
	return best, failures
}
