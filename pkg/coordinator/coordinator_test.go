package coordinator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/htlc"
	"github.com/chainswap/swap-engine/pkg/swapnet"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var (
	ethAsset = asset.Asset{ChainID: 1, Symbol: "ETH", Decimals: 18}
	btcAsset = asset.Asset{ChainID: 0, Symbol: "BTC", Decimals: 8}
)

type mockLiquidity struct {
	lastCreate swapnet.CreateOrderRequest

	QuoteFunc  func(req swapnet.QuoteRequest) (*swapnet.QuoteResponse, error)
	StatusFunc func(orderID string) (*swapnet.OrderStatus, error)
}

func (m *mockLiquidity) Quote(_ context.Context, req swapnet.QuoteRequest) (*swapnet.QuoteResponse, error) {
	if m.QuoteFunc != nil {
		return m.QuoteFunc(req)
	}
	return &swapnet.QuoteResponse{StrategyID: "strat-1", ReceiveAmount: "990"}, nil
}

func (m *mockLiquidity) CreateOrder(_ context.Context, req swapnet.CreateOrderRequest) (*swapnet.CreateOrderResponse, error) {
	m.lastCreate = req
	return &swapnet.CreateOrderResponse{
		OrderID:             "net-order-1",
		DepositAddress:      "bc1qdeposit",
		CounterpartyAddress: "0x00000000000000000000000000000000000000AA",
	}, nil
}

func (m *mockLiquidity) Status(_ context.Context, orderID string) (*swapnet.OrderStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(orderID)
	}
	return &swapnet.OrderStatus{OrderID: orderID}, nil
}

type mockLock struct {
	initiates int32
	redeems   int32
	refunds   int32

	InitiateFunc func() (common.Hash, error)
	StateFunc    func() (htlc.SettlementState, error)
}

func (m *mockLock) Initiate(_ context.Context, _ *wallet.EvmWallet, _ common.Address, _ [32]byte, _ time.Time, _ common.Address, _ *big.Int) (common.Hash, error) {
	atomic.AddInt32(&m.initiates, 1)
	if m.InitiateFunc != nil {
		return m.InitiateFunc()
	}
	return common.HexToHash("0x01"), nil
}

func (m *mockLock) Redeem(_ context.Context, _ *wallet.EvmWallet, _ [32]byte, _ []byte) (common.Hash, error) {
	atomic.AddInt32(&m.redeems, 1)
	return common.HexToHash("0x02"), nil
}

func (m *mockLock) Refund(_ context.Context, _ *wallet.EvmWallet, _ [32]byte) (common.Hash, error) {
	atomic.AddInt32(&m.refunds, 1)
	return common.HexToHash("0x03"), nil
}

func (m *mockLock) State(context.Context, [32]byte) (htlc.SettlementState, error) {
	if m.StateFunc != nil {
		return m.StateFunc()
	}
	return htlc.SettlementState{}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Notify(_ string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) transitions() []SwapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]SwapState, len(s.events))
	for i, ev := range s.events {
		states[i] = ev.To
	}
	return states
}

func testWallet(t *testing.T, family wallet.ChainFamily) wallet.Wallet {
	t.Helper()
	d, err := wallet.NewDeriver(testMnemonic, "", bytes.Repeat([]byte{0xAB}, 32), nil)
	require.NoError(t, err)
	w, err := d.Derive(1, family, 0)
	require.NoError(t, err)
	return w
}

func newTestCoordinator(liquidity *mockLiquidity, lock *mockLock) *Coordinator {
	return New(liquidity, lock, nil, nil, time.Hour, zap.NewNop())
}

func TestGetQuoteRejectsSameChainPair(t *testing.T) {
	c := newTestCoordinator(&mockLiquidity{}, &mockLock{})

	_, err := c.GetQuote(context.Background(), "ethereum", "ethereum", ethAsset, ethAsset, big.NewInt(1000))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUnsupportedChainPair))
}

func TestCreateSwapEvmInitiatesSourceLeg(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{}
	c := newTestCoordinator(liquidity, lock)

	sink := &recordingSink{}
	c.Subscribe(sink)

	q, err := c.GetQuote(context.Background(), "ethereum", "bitcoin", ethAsset, btcAsset, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(990), q.ReceiveAmount)

	sw, err := c.CreateSwap(context.Background(), 1, 0, testWallet(t, wallet.FamilyEVM), q)
	require.NoError(t, err)

	assert.Equal(t, StateSourceInitiated, sw.State)
	assert.Equal(t, common.HexToHash("0x01").Hex(), sw.InitiateTxHash)
	assert.Equal(t, "net-order-1", sw.OrderID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&lock.initiates))
	assert.Equal(t, []SwapState{StateCreated, StateSourceInitiated}, sink.transitions())

	// the network learns the hash, never the preimage
	hash, err := hex.DecodeString(liquidity.lastCreate.SecretHash)
	require.NoError(t, err)
	assert.Len(t, hash, sha256.Size)
	assert.Equal(t, hash, sw.SecretHash[:])
}

func TestCreateSwapUtxoAwaitsDeposit(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{}
	c := newTestCoordinator(liquidity, lock)

	sink := &recordingSink{}
	c.Subscribe(sink)

	q, err := c.GetQuote(context.Background(), "bitcoin", "ethereum", btcAsset, ethAsset, big.NewInt(1000))
	require.NoError(t, err)

	sw, err := c.CreateSwap(context.Background(), 1, 0, testWallet(t, wallet.FamilyUTXO), q)
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingDeposit, sw.State)
	assert.Equal(t, "bc1qdeposit", sw.DepositAddress)
	assert.EqualValues(t, 0, atomic.LoadInt32(&lock.initiates))
	assert.Equal(t, []SwapState{StateCreated, StateAwaitingDeposit}, sink.transitions())
}

func TestCreateSwapInitiateFailureSurfacesAsState(t *testing.T) {
	lock := &mockLock{
		InitiateFunc: func() (common.Hash, error) {
			return common.Hash{}, fmt.Errorf("nonce too low")
		},
	}
	c := newTestCoordinator(&mockLiquidity{}, lock)

	q, err := c.GetQuote(context.Background(), "ethereum", "bitcoin", ethAsset, btcAsset, big.NewInt(1000))
	require.NoError(t, err)

	sw, err := c.CreateSwap(context.Background(), 1, 0, testWallet(t, wallet.FamilyEVM), q)
	require.NoError(t, err)
	assert.Equal(t, StateErrored, sw.State)
}

type mockJournal struct {
	mu      sync.Mutex
	inserts int
	states  []SwapState
	stored  []StoredSwap
}

func (m *mockJournal) Insert(_ context.Context, _ *Swap, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	return nil
}

func (m *mockJournal) UpdateState(_ context.Context, sw *Swap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, sw.State)
	return nil
}

func (m *mockJournal) LoadOpen(context.Context) ([]StoredSwap, error) {
	return m.stored, nil
}

func TestRestoreRehydratesOpenSwaps(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	keystore := wallet.NewKeystore(bytes.Repeat([]byte{0xCD}, 32))
	sealed, err := keystore.Seal(secret, "swap-1")
	require.NoError(t, err)

	journal := &mockJournal{stored: []StoredSwap{{
		Swap: &Swap{
			ID:            "swap-1",
			UserID:        1,
			FromFamily:    wallet.FamilyEVM,
			WalletIndex:   0,
			FromChain:     "ethereum",
			ToChain:       "bitcoin",
			FromAsset:     ethAsset,
			ToAsset:       btcAsset,
			SendAmount:    big.NewInt(1000),
			ReceiveAmount: big.NewInt(990),
			SecretHash:    sha256.Sum256(secret),
			Timelock:      time.Now().Add(time.Hour),
			OrderID:       "net-order-1",
			State:         StateSourceInitiated,
		},
		SealedSecret: sealed,
	}}}

	liquidity := &mockLiquidity{
		StatusFunc: func(orderID string) (*swapnet.OrderStatus, error) {
			return &swapnet.OrderStatus{OrderID: orderID, DepositSeen: true, RevealedSecret: secret}, nil
		},
	}
	lock := &mockLock{}
	c := New(liquidity, lock, keystore, journal, time.Hour, zap.NewNop())

	deriver, err := wallet.NewDeriver(testMnemonic, "", bytes.Repeat([]byte{0xAB}, 32), nil)
	require.NoError(t, err)
	require.NoError(t, c.Restore(context.Background(), deriver))

	sw, ok := c.Swap("swap-1")
	require.True(t, ok)
	assert.Equal(t, StateSourceInitiated, sw.State)
	assert.Equal(t, []string{"swap-1"}, c.openSwapIDs())

	// the restored signer is live again: the settlement loop can redeem
	NewEngine(c, time.Minute, zap.NewNop()).Tick(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt32(&lock.redeems))
}

func TestRestoreSkipsSwapWithUnopenableSecret(t *testing.T) {
	keystore := wallet.NewKeystore(bytes.Repeat([]byte{0xCD}, 32))
	other := wallet.NewKeystore(bytes.Repeat([]byte{0xEF}, 32))
	sealed, err := other.Seal([]byte("not ours"), "swap-1")
	require.NoError(t, err)

	journal := &mockJournal{stored: []StoredSwap{{
		Swap:         &Swap{ID: "swap-1", FromFamily: wallet.FamilyUTXO, State: StateAwaitingDeposit},
		SealedSecret: sealed,
	}}}
	c := New(&mockLiquidity{}, &mockLock{}, keystore, journal, time.Hour, zap.NewNop())

	deriver, err := wallet.NewDeriver(testMnemonic, "", bytes.Repeat([]byte{0xAB}, 32), nil)
	require.NoError(t, err)
	require.NoError(t, c.Restore(context.Background(), deriver))

	_, ok := c.Swap("swap-1")
	assert.False(t, ok)
}

func TestSwapSnapshotHidesKeyMaterial(t *testing.T) {
	c := newTestCoordinator(&mockLiquidity{}, &mockLock{})

	q, err := c.GetQuote(context.Background(), "ethereum", "bitcoin", ethAsset, btcAsset, big.NewInt(1000))
	require.NoError(t, err)
	created, err := c.CreateSwap(context.Background(), 1, 0, testWallet(t, wallet.FamilyEVM), q)
	require.NoError(t, err)

	sw, ok := c.Swap(created.ID)
	require.True(t, ok)
	assert.Nil(t, sw.secret)
	assert.Nil(t, sw.signer)

	_, ok = c.Swap(uuid.NewString())
	assert.False(t, ok)
}
