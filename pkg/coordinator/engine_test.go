package coordinator

import (
	"context"
	"crypto/sha256"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/pkg/htlc"
	"github.com/chainswap/swap-engine/pkg/swapnet"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// seedSwap installs a swap in the coordinator as if CreateSwap had produced
// it, with a known preimage
func seedSwap(t *testing.T, c *Coordinator, state SwapState, timelock time.Time, evmLeg bool) (*Swap, []byte) {
	t.Helper()

	secret := []byte("0123456789abcdef0123456789abcdef")
	sw := &Swap{
		ID:            "swap-1",
		UserID:        1,
		FromChain:     "ethereum",
		ToChain:       "bitcoin",
		FromAsset:     ethAsset,
		ToAsset:       btcAsset,
		SendAmount:    big.NewInt(1000),
		ReceiveAmount: big.NewInt(990),
		SecretHash:    sha256.Sum256(secret),
		Timelock:      timelock,
		OrderID:       "net-order-1",
		State:         state,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
		secret:        secret,
	}
	if evmLeg {
		sw.signer = testWallet(t, wallet.FamilyEVM).(*wallet.EvmWallet)
	}

	c.mu.Lock()
	c.swaps[sw.ID] = sw
	c.swapLocks[sw.ID] = &sync.Mutex{}
	c.mu.Unlock()
	return sw, secret
}

func newTestEngine(c *Coordinator) *Engine {
	return NewEngine(c, time.Minute, zap.NewNop())
}

func TestEngineRedeemsOnRevealedSecret(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{}
	c := newTestCoordinator(liquidity, lock)
	sw, secret := seedSwap(t, c, StateSourceInitiated, time.Now().Add(time.Hour), true)

	liquidity.StatusFunc = func(orderID string) (*swapnet.OrderStatus, error) {
		return &swapnet.OrderStatus{OrderID: orderID, DepositSeen: true, RevealedSecret: secret}, nil
	}

	e := newTestEngine(c)
	e.Tick(context.Background())

	assert.Equal(t, StateRedeemed, sw.State)
	assert.EqualValues(t, 1, atomic.LoadInt32(&lock.redeems))
	assert.NotEmpty(t, sw.RedeemTxHash)

	// completion waits for on-chain confirmation of the redeem
	e.Tick(context.Background())
	assert.Equal(t, StateRedeemed, sw.State)

	lock.StateFunc = func() (htlc.SettlementState, error) {
		return htlc.SettlementState{Redeemed: true}, nil
	}
	e.Tick(context.Background())
	assert.Equal(t, StateComplete, sw.State)

	// terminal swaps are left alone
	e.Tick(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt32(&lock.redeems))
}

func TestEngineSkipsSwapStillInitiating(t *testing.T) {
	liquidity := &mockLiquidity{}
	release := make(chan struct{})
	lock := &mockLock{
		InitiateFunc: func() (common.Hash, error) {
			<-release
			return common.HexToHash("0x01"), nil
		},
	}
	// the timelock is already in the past, so a half-visible swap would look
	// refundable to the loop
	c := New(liquidity, lock, nil, nil, -time.Minute, zap.NewNop())
	sink := &recordingSink{}
	c.Subscribe(sink)

	q, err := c.GetQuote(context.Background(), "ethereum", "bitcoin", ethAsset, btcAsset, big.NewInt(1000))
	require.NoError(t, err)
	w := testWallet(t, wallet.FamilyEVM)

	done := make(chan *Swap, 1)
	go func() {
		sw, err := c.CreateSwap(context.Background(), 1, 0, w, q)
		assert.NoError(t, err)
		done <- sw
	}()

	e := newTestEngine(c)
	require.Eventually(t, func() bool {
		return len(c.openSwapIDs()) == 1
	}, time.Second, time.Millisecond)
	for i := 0; i < 10; i++ {
		e.Tick(context.Background())
	}

	close(release)
	sw := <-done

	assert.Equal(t, StateSourceInitiated, sw.State)
	assert.EqualValues(t, 0, atomic.LoadInt32(&lock.refunds))
	assert.Equal(t, []SwapState{StateCreated, StateSourceInitiated}, sink.transitions())
}

func TestEngineHonorsOnChainRefundOverLateSecret(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{
		StateFunc: func() (htlc.SettlementState, error) {
			return htlc.SettlementState{Refunded: true}, nil
		},
	}
	c := newTestCoordinator(liquidity, lock)
	sw, secret := seedSwap(t, c, StateSourceInitiated, time.Now().Add(time.Hour), true)

	liquidity.StatusFunc = func(orderID string) (*swapnet.OrderStatus, error) {
		return &swapnet.OrderStatus{OrderID: orderID, DepositSeen: true, RevealedSecret: secret}, nil
	}

	newTestEngine(c).Tick(context.Background())

	// the counterparty revealed the secret only after the lock was refunded
	// on chain; the swap must land terminal on the refunded side
	assert.Equal(t, StateRefunded, sw.State)
	assert.True(t, sw.State.Terminal())
	assert.EqualValues(t, 0, atomic.LoadInt32(&lock.redeems))
}

func TestEngineRejectsMismatchedSecret(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{}
	c := newTestCoordinator(liquidity, lock)
	sw, _ := seedSwap(t, c, StateSourceInitiated, time.Now().Add(time.Hour), true)

	liquidity.StatusFunc = func(orderID string) (*swapnet.OrderStatus, error) {
		return &swapnet.OrderStatus{OrderID: orderID, RevealedSecret: []byte("wrong preimage")}, nil
	}

	newTestEngine(c).Tick(context.Background())

	assert.Equal(t, StateSourceInitiated, sw.State)
	assert.EqualValues(t, 0, atomic.LoadInt32(&lock.redeems))
}

func TestEngineRefundsExactlyOnceAfterTimelock(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{}
	c := newTestCoordinator(liquidity, lock)
	sw, _ := seedSwap(t, c, StateSourceInitiated, time.Now().Add(-time.Minute), true)

	sink := &recordingSink{}
	c.Subscribe(sink)

	e := newTestEngine(c)
	for i := 0; i < 5; i++ {
		e.Tick(context.Background())
	}

	assert.Equal(t, StateRefunded, sw.State)
	assert.EqualValues(t, 1, atomic.LoadInt32(&lock.refunds))
	assert.NotEmpty(t, sw.RefundTxHash)
	assert.Equal(t, []SwapState{StateRefunded}, sink.transitions())
}

func TestEngineSkipsRefundWhenAlreadySettledOnChain(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{
		StateFunc: func() (htlc.SettlementState, error) {
			return htlc.SettlementState{Refunded: true}, nil
		},
	}
	c := newTestCoordinator(liquidity, lock)
	sw, _ := seedSwap(t, c, StateSourceInitiated, time.Now().Add(-time.Minute), true)

	newTestEngine(c).Tick(context.Background())

	assert.Equal(t, StateRefunded, sw.State)
	assert.EqualValues(t, 0, atomic.LoadInt32(&lock.refunds))
}

func TestEngineSettlesUtxoLegWithoutLock(t *testing.T) {
	liquidity := &mockLiquidity{}
	lock := &mockLock{}
	c := newTestCoordinator(liquidity, lock)
	sw, secret := seedSwap(t, c, StateAwaitingDeposit, time.Now().Add(time.Hour), false)

	liquidity.StatusFunc = func(orderID string) (*swapnet.OrderStatus, error) {
		return &swapnet.OrderStatus{OrderID: orderID, DepositSeen: true, RevealedSecret: secret}, nil
	}

	sink := &recordingSink{}
	c.Subscribe(sink)

	newTestEngine(c).Tick(context.Background())

	assert.Equal(t, StateComplete, sw.State)
	assert.EqualValues(t, 0, atomic.LoadInt32(&lock.redeems))
	assert.Equal(t, []SwapState{StateRedeemed, StateComplete}, sink.transitions())
}

func TestEngineStartStop(t *testing.T) {
	liquidity := &mockLiquidity{}
	c := newTestCoordinator(liquidity, &mockLock{})
	seedSwap(t, c, StateSourceInitiated, time.Now().Add(time.Hour), true)

	var polls int32
	liquidity.StatusFunc = func(orderID string) (*swapnet.OrderStatus, error) {
		atomic.AddInt32(&polls, 1)
		return &swapnet.OrderStatus{OrderID: orderID}, nil
	}

	e := NewEngine(c, 10*time.Millisecond, zap.NewNop())
	e.Start(context.Background())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&polls) >= 2
	}, time.Second, 5*time.Millisecond)

	e.Stop()
	settled := atomic.LoadInt32(&polls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt32(&polls))
}
