// Package venue defines the uniform quote/execute contract implemented by
// every trading venue adapter.
package venue

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// OrderState is the lifecycle state of an asynchronous order
type OrderState string

const (
	OrderCreated             OrderState = "CREATED"
	OrderOpen                OrderState = "OPEN"
	OrderPresignaturePending OrderState = "PRESIGNATURE_PENDING"
	OrderFulfilled           OrderState = "FULFILLED"
	OrderCancelled           OrderState = "CANCELLED"
	OrderExpired             OrderState = "EXPIRED"
	// OrderTimeout is the monitor's inconclusive outcome, not a venue state:
	// the order may still settle later out-of-band
	OrderTimeout OrderState = "TIMEOUT"
)

// Terminal reports whether the state ends the order lifecycle
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFulfilled, OrderCancelled, OrderExpired:
		return true
	default:
		return false
	}
}

// QuoteRequest asks a venue for a price on a sell
type QuoteRequest struct {
	Sell        asset.Asset
	Buy         asset.Asset
	SellAmount  *big.Int
	SlippageBps int
}

// Quote is a fresh venue price. Quotes are produced per request and never
// cached past use.
type Quote struct {
	VenueID     string
	Sell        asset.Asset
	Buy         asset.Asset
	SellAmount  *big.Int
	BuyAmount   *big.Int
	FeeAmount   *big.Int
	SlippageBps int
	ExpiresAt   time.Time
}

// Expired reports whether the quote is past its validity
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Order is a same-chain swap order owned by the router for its lifetime
type Order struct {
	ID                 string
	VenueID            string
	Sell               asset.Asset
	Buy                asset.Asset
	SellAmount         *big.Int
	BuyAmount          *big.Int
	ExecutedSellAmount *big.Int
	ExecutedBuyAmount  *big.Int
	State              OrderState
	CreatedAt          time.Time
}

// Adapter is the capability set implemented once per venue family
type Adapter interface {
	// ID returns the stable venue identifier used in routing priority and errors
	ID() string
	// Spender returns the contract that pulls the sell asset during execution,
	// the target of any required allowance
	Spender() common.Address
	// GetQuote prices the requested sell on this venue
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)
	// ExecuteSwap executes a previously obtained quote from the given wallet
	ExecuteSwap(ctx context.Context, w *wallet.EvmWallet, q *Quote) (*Order, error)
}
