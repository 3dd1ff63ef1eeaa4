package coordinator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/internal/metrics"
	"github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/htlc"
	"github.com/chainswap/swap-engine/pkg/swapnet"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// LiquidityClient is the slice of the liquidity network API the coordinator
// consumes
type LiquidityClient interface {
	Quote(ctx context.Context, req swapnet.QuoteRequest) (*swapnet.QuoteResponse, error)
	CreateOrder(ctx context.Context, req swapnet.CreateOrderRequest) (*swapnet.CreateOrderResponse, error)
	Status(ctx context.Context, orderID string) (*swapnet.OrderStatus, error)
}

// SourceLock is the hash-timelock contract holding the source-leg funds of
// account-based swaps
type SourceLock interface {
	Initiate(ctx context.Context, w *wallet.EvmWallet, redeemer common.Address, secretHash [32]byte, timelock time.Time, token common.Address, amount *big.Int) (common.Hash, error)
	Redeem(ctx context.Context, w *wallet.EvmWallet, secretHash [32]byte, secret []byte) (common.Hash, error)
	Refund(ctx context.Context, w *wallet.EvmWallet, secretHash [32]byte) (common.Hash, error)
	State(ctx context.Context, secretHash [32]byte) (htlc.SettlementState, error)
}

// Journal persists swap records so open swaps survive a restart. A nil
// journal disables persistence.
type Journal interface {
	Insert(ctx context.Context, s *Swap, sealedSecret string) error
	UpdateState(ctx context.Context, s *Swap) error
	LoadOpen(ctx context.Context) ([]StoredSwap, error)
}

// StoredSwap is a journaled swap together with its sealed redeem secret
type StoredSwap struct {
	Swap         *Swap
	SealedSecret string
}

// WalletSource re-derives the signing wallet of a restored swap
type WalletSource interface {
	Derive(userID uint64, family wallet.ChainFamily, index uint32) (wallet.Wallet, error)
}

// Coordinator drives cross-chain atomic swaps from quote through settlement
type Coordinator struct {
	liquidity LiquidityClient
	lock      SourceLock
	keystore  *wallet.Keystore
	journal   Journal
	timelock  time.Duration
	logger    *zap.Logger

	mu        sync.RWMutex
	swaps     map[string]*Swap
	swapLocks map[string]*sync.Mutex
	sinks     []Sink
}

func New(liquidity LiquidityClient, lock SourceLock, keystore *wallet.Keystore, journal Journal, timelock time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		liquidity: liquidity,
		lock:      lock,
		keystore:  keystore,
		journal:   journal,
		timelock:  timelock,
		logger:    logger.With(zap.String("component", "coordinator")),
		swaps:     make(map[string]*Swap),
		swapLocks: make(map[string]*sync.Mutex),
	}
}

// Subscribe registers a sink for swap state transitions. Sinks registered
// after a transition do not receive it retroactively.
func (c *Coordinator) Subscribe(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// GetQuote prices a cross-chain swap on the liquidity network
func (c *Coordinator) GetQuote(ctx context.Context, fromChain, toChain string, from, to asset.Asset, sendAmount *big.Int) (*Quote, error) {
	if fromChain == toChain {
		return nil, errors.UnsupportedChainPair(fmt.Sprintf("cannot cross-chain swap from %s to %s", fromChain, toChain))
	}

	resp, err := c.liquidity.Quote(ctx, swapnet.QuoteRequest{
		FromChain:  fromChain,
		ToChain:    toChain,
		FromAsset:  from.Symbol,
		ToAsset:    to.Symbol,
		SendAmount: sendAmount.String(),
	})
	if err != nil {
		return nil, err
	}
	receive, err := resp.ReceiveAmountInt()
	if err != nil {
		return nil, err
	}

	return &Quote{
		StrategyID:    resp.StrategyID,
		FromChain:     fromChain,
		ToChain:       toChain,
		FromAsset:     from,
		ToAsset:       to,
		SendAmount:    new(big.Int).Set(sendAmount),
		ReceiveAmount: receive,
	}, nil
}

// CreateSwap turns a quote into a tracked swap. It generates the secret,
// registers the order with the liquidity network and, for account-based
// source chains, locks the funds in the source contract. A failed source leg
// surfaces as the ERRORED state on the returned swap, not as an error.
func (c *Coordinator) CreateSwap(ctx context.Context, userID uint64, walletIndex uint32, w wallet.Wallet, q *Quote) (*Swap, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating swap secret: %w", err)
	}
	secretHash := sha256.Sum256(secret)
	timelock := time.Now().Add(c.timelock)

	order, err := c.liquidity.CreateOrder(ctx, swapnet.CreateOrderRequest{
		StrategyID:    q.StrategyID,
		SecretHash:    hex.EncodeToString(secretHash[:]),
		SendAmount:    q.SendAmount.String(),
		ReceiveAmount: q.ReceiveAmount.String(),
		Receiver:      w.Address(),
		RefundAddress: w.Address(),
		Timelock:      timelock.Unix(),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sw := &Swap{
		ID:            uuid.NewString(),
		UserID:        userID,
		FromFamily:    w.Family(),
		WalletIndex:   walletIndex,
		FromChain:     q.FromChain,
		ToChain:       q.ToChain,
		FromAsset:     q.FromAsset,
		ToAsset:       q.ToAsset,
		SendAmount:    new(big.Int).Set(q.SendAmount),
		ReceiveAmount: new(big.Int).Set(q.ReceiveAmount),
		SecretHash:    secretHash,
		Timelock:      timelock,
		OrderID:       order.OrderID,
		State:         StateQuoted,
		CreatedAt:     now,
		UpdatedAt:     now,
		secret:        secret,
	}

	// The swap lock is held from before the swap becomes visible until the
	// source leg settles into its post-creation state, so the settlement loop
	// can never observe a half-built swap.
	swapLock := &sync.Mutex{}
	swapLock.Lock()
	defer swapLock.Unlock()

	c.mu.Lock()
	c.swaps[sw.ID] = sw
	c.swapLocks[sw.ID] = swapLock
	c.mu.Unlock()
	metrics.OpenSwaps.Inc()
	c.persist(ctx, sw, true)
	c.transition(ctx, sw, StateCreated)

	switch src := w.(type) {
	case *wallet.EvmWallet:
		c.mu.Lock()
		sw.signer = src
		c.mu.Unlock()
		var token common.Address
		if !q.FromAsset.IsNative() {
			token = common.HexToAddress(q.FromAsset.Address)
		}
		txHash, err := c.lock.Initiate(ctx, src, common.HexToAddress(order.CounterpartyAddress), secretHash, timelock, token, q.SendAmount)
		if err != nil {
			c.logger.Error("source leg initiate failed", zap.String("swap_id", sw.ID), zap.Error(err))
			c.transition(ctx, sw, StateErrored)
			return sw.snapshot(), nil
		}
		c.mu.Lock()
		sw.InitiateTxHash = txHash.Hex()
		c.mu.Unlock()
		c.transition(ctx, sw, StateSourceInitiated)
	case *wallet.UtxoWallet:
		c.mu.Lock()
		sw.DepositAddress = order.DepositAddress
		c.mu.Unlock()
		c.transition(ctx, sw, StateAwaitingDeposit)
	default:
		c.transition(ctx, sw, StateErrored)
		return sw.snapshot(), errors.UnsupportedChainPair(fmt.Sprintf("no source leg handler for wallet family %s", w.Family()))
	}

	return sw.snapshot(), nil
}

// Restore reloads open swaps from the journal after a restart: secrets are
// unsealed through the keystore and account-based signers re-derived, so the
// settlement loop resumes exactly where the previous process stopped. A swap
// whose secret or signer cannot be recovered is left out rather than settled
// half-blind.
func (c *Coordinator) Restore(ctx context.Context, wallets WalletSource) error {
	if c.journal == nil {
		return nil
	}
	stored, err := c.journal.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("loading open swaps: %w", err)
	}

	restored := 0
	for _, rec := range stored {
		sw := rec.Swap
		if c.keystore != nil && rec.SealedSecret != "" {
			secret, err := c.keystore.Open(rec.SealedSecret, sw.ID)
			if err != nil {
				c.logger.Error("unsealing restored swap secret failed",
					zap.String("swap_id", sw.ID), zap.Error(err))
				continue
			}
			sw.secret = secret
		}
		if sw.FromFamily == wallet.FamilyEVM {
			w, err := wallets.Derive(sw.UserID, sw.FromFamily, sw.WalletIndex)
			if err != nil {
				c.logger.Error("re-deriving restored swap signer failed",
					zap.String("swap_id", sw.ID), zap.Error(err))
				continue
			}
			signer, ok := w.(*wallet.EvmWallet)
			if !ok {
				c.logger.Error("restored swap signer is not account-based",
					zap.String("swap_id", sw.ID))
				continue
			}
			sw.signer = signer
		}

		c.mu.Lock()
		if _, exists := c.swaps[sw.ID]; !exists {
			c.swaps[sw.ID] = sw
			c.swapLocks[sw.ID] = &sync.Mutex{}
			metrics.OpenSwaps.Inc()
			restored++
		}
		c.mu.Unlock()
	}

	c.logger.Info("restored open swaps from journal",
		zap.Int("restored", restored),
		zap.Int("journaled", len(stored)))
	return nil
}

// Swap returns a copy of the tracked swap with the given id
func (c *Coordinator) Swap(id string) (*Swap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sw, ok := c.swaps[id]
	if !ok {
		return nil, false
	}
	return sw.snapshot(), true
}

// openSwapIDs lists the ids of swaps not yet in a terminal state, in a
// stable order
func (c *Coordinator) openSwapIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.swaps))
	for id, sw := range c.swaps {
		if !sw.State.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// transition moves the swap to the next state and fans the event out to every
// registered sink. Callers hold the per-swap lock; c.mu additionally guards
// the field writes against concurrent snapshot reads.
func (c *Coordinator) transition(ctx context.Context, sw *Swap, next SwapState) {
	ev := Event{SwapID: sw.ID, From: sw.State, To: next, At: time.Now()}
	c.mu.Lock()
	sw.State = next
	sw.UpdatedAt = ev.At
	c.mu.Unlock()

	metrics.CrossChainSwapsTotal.WithLabelValues(string(next)).Inc()
	if next.Terminal() {
		metrics.OpenSwaps.Dec()
	}
	c.logger.Info("swap state changed",
		zap.String("swap_id", sw.ID),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)))
	c.persist(ctx, sw, false)

	c.mu.RLock()
	sinks := make([]Sink, len(c.sinks))
	copy(sinks, c.sinks)
	c.mu.RUnlock()
	for _, sink := range sinks {
		sink.Notify(sw.ID, ev)
	}
}

func (c *Coordinator) persist(ctx context.Context, sw *Swap, insert bool) {
	if c.journal == nil {
		return
	}
	var err error
	if insert {
		sealed := ""
		if c.keystore != nil {
			sealed, err = c.keystore.Seal(sw.secret, sw.ID)
		}
		if err == nil {
			err = c.journal.Insert(ctx, sw, sealed)
		}
	} else {
		err = c.journal.UpdateState(ctx, sw)
	}
	if err != nil {
		c.logger.Warn("journal write failed", zap.String("swap_id", sw.ID), zap.Error(err))
	}
}
