package coordinator

import (
	"math/big"
	"time"

	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// SwapState is the lifecycle state of a cross-chain swap
type SwapState string

const (
	StateQuoted          SwapState = "QUOTED"
	StateCreated         SwapState = "CREATED"
	StateSourceInitiated SwapState = "SOURCE_INITIATED"
	StateAwaitingDeposit SwapState = "AWAITING_DEPOSIT"
	StateRedeemed        SwapState = "REDEEMED"
	StateComplete        SwapState = "COMPLETE"
	StateRefunded        SwapState = "REFUNDED"
	StateErrored         SwapState = "ERRORED"
)

// Terminal reports whether the state ends the swap lifecycle
func (s SwapState) Terminal() bool {
	switch s {
	case StateComplete, StateRefunded, StateErrored:
		return true
	default:
		return false
	}
}

// Quote is a priced cross-chain swap, the QUOTED stage of the lifecycle
type Quote struct {
	StrategyID    string
	FromChain     string
	ToChain       string
	FromAsset     asset.Asset
	ToAsset       asset.Asset
	SendAmount    *big.Int
	ReceiveAmount *big.Int
}

// Swap is a cross-chain atomic swap owned by the coordinator for its
// lifetime. Field mutation happens only under the coordinator's lock; callers
// get copies.
type Swap struct {
	ID     string
	UserID uint64
	// FromFamily and WalletIndex identify the source wallet so the signer can
	// be re-derived after a restart
	FromFamily    wallet.ChainFamily
	WalletIndex   uint32
	FromChain     string
	ToChain       string
	FromAsset     asset.Asset
	ToAsset       asset.Asset
	SendAmount    *big.Int
	ReceiveAmount *big.Int

	SecretHash [32]byte
	Timelock   time.Time

	// OrderID is the liquidity network's identifier for this swap
	OrderID        string
	DepositAddress string

	InitiateTxHash string
	RedeemTxHash   string
	RefundTxHash   string

	State     SwapState
	CreatedAt time.Time
	UpdatedAt time.Time

	// secret is the redeem preimage; never exposed through snapshots before
	// it reaches chain anyway via redeem
	secret []byte
	// signer is set for account-based source legs, nil for UTXO legs
	signer *wallet.EvmWallet
}

// snapshot returns a caller-safe copy without key material
func (s *Swap) snapshot() *Swap {
	c := *s
	c.secret = nil
	c.signer = nil
	return &c
}

// Event is a single state transition of a tracked swap
type Event struct {
	SwapID string
	From   SwapState
	To     SwapState
	At     time.Time
}

// Sink receives every state transition of every tracked swap. Sinks decouple
// outcome delivery from any particular messaging transport.
type Sink interface {
	Notify(swapID string, event Event)
}
