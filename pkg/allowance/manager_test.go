package allowance

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var usdc = asset.Asset{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}

type mockBackend struct {
	mu        sync.Mutex
	allowance *big.Int
	approves  int32
	receipt   *types.Receipt

	AllowanceOfFunc func() (*big.Int, error)
	ApproveFunc     func(amount *big.Int) (common.Hash, error)
}

func (m *mockBackend) AllowanceOf(context.Context, common.Address, common.Address, asset.Asset) (*big.Int, error) {
	if m.AllowanceOfFunc != nil {
		return m.AllowanceOfFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.allowance), nil
}

func (m *mockBackend) Approve(_ context.Context, _ *ecdsa.PrivateKey, _, _ common.Address, amount *big.Int) (common.Hash, error) {
	atomic.AddInt32(&m.approves, 1)
	if m.ApproveFunc != nil {
		return m.ApproveFunc(amount)
	}
	// the approval takes effect before the receipt lands
	m.mu.Lock()
	m.allowance = new(big.Int).Set(amount)
	m.mu.Unlock()
	return common.HexToHash("0xdeadbeef"), nil
}

func (m *mockBackend) AwaitReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if m.receipt != nil {
		return m.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func testWallet(t *testing.T) *wallet.EvmWallet {
	t.Helper()
	d, err := wallet.NewDeriver(testMnemonic, "", bytes.Repeat([]byte{0xAB}, 32), nil)
	require.NoError(t, err)
	w, err := d.Derive(1, wallet.FamilyEVM, 0)
	require.NoError(t, err)
	return w.(*wallet.EvmWallet)
}

func TestEnsureAllowanceSufficientIsReadOnly(t *testing.T) {
	backend := &mockBackend{allowance: big.NewInt(1000)}
	m := NewManager(backend, zap.NewNop())

	result, err := m.EnsureAllowance(context.Background(), testWallet(t), usdc, common.HexToAddress("0x01"), big.NewInt(100))
	require.NoError(t, err)
	assert.True(t, result.AlreadySufficient)
	assert.EqualValues(t, 0, atomic.LoadInt32(&backend.approves))
}

func TestEnsureAllowanceApprovesMaximumOnShortfall(t *testing.T) {
	backend := &mockBackend{allowance: big.NewInt(0)}
	var approved *big.Int
	backend.ApproveFunc = func(amount *big.Int) (common.Hash, error) {
		approved = amount
		backend.mu.Lock()
		backend.allowance = new(big.Int).Set(amount)
		backend.mu.Unlock()
		return common.HexToHash("0xdeadbeef"), nil
	}
	m := NewManager(backend, zap.NewNop())

	result, err := m.EnsureAllowance(context.Background(), testWallet(t), usdc, common.HexToAddress("0x01"), big.NewInt(100))
	require.NoError(t, err)
	assert.False(t, result.AlreadySufficient)
	assert.Equal(t, common.HexToHash("0xdeadbeef"), result.TxHash)

	require.NotNil(t, approved)
	assert.Equal(t, maxUint256, approved)
}

func TestEnsureAllowanceNativeNeedsNothing(t *testing.T) {
	backend := &mockBackend{allowance: big.NewInt(0)}
	m := NewManager(backend, zap.NewNop())

	native := asset.Asset{ChainID: 1, Symbol: "ETH", Decimals: 18}
	result, err := m.EnsureAllowance(context.Background(), testWallet(t), native, common.HexToAddress("0x01"), big.NewInt(100))
	require.NoError(t, err)
	assert.True(t, result.AlreadySufficient)
	assert.EqualValues(t, 0, atomic.LoadInt32(&backend.approves))
}

func TestEnsureAllowanceSerializesConcurrentCalls(t *testing.T) {
	backend := &mockBackend{allowance: big.NewInt(0)}
	m := NewManager(backend, zap.NewNop())
	w := testWallet(t)
	spender := common.HexToAddress("0x01")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.EnsureAllowance(context.Background(), w, usdc, spender, big.NewInt(100))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// the first call approves, every later call observes the max allowance
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.approves))
}

func TestEnsureAllowanceRevertedApproval(t *testing.T) {
	backend := &mockBackend{
		allowance: big.NewInt(0),
		receipt:   &types.Receipt{Status: types.ReceiptStatusFailed},
	}
	m := NewManager(backend, zap.NewNop())

	_, err := m.EnsureAllowance(context.Background(), testWallet(t), usdc, common.HexToAddress("0x01"), big.NewInt(100))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientAllowance))
}
