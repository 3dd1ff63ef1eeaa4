// Package allowance ensures on-chain spending approval before a venue
// executes a sell.
package allowance

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/internal/metrics"
	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// maxUint256 is the approval amount submitted on a shortfall; approving the
// maximum amortizes every future approval for the triple.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ChainBackend is the slice of the chain client the manager needs
type ChainBackend interface {
	AllowanceOf(ctx context.Context, owner, spender common.Address, a asset.Asset) (*big.Int, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error)
	AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Result reports what the manager did for a call
type Result struct {
	// AlreadySufficient is true when no on-chain write was needed
	AlreadySufficient bool
	// TxHash is the approval transaction hash when one was submitted
	TxHash common.Hash
}

// Manager reads allowances live and approves on shortfall. Calls are
// serialized per (wallet, asset, spender) so two check-then-approve sequences
// never race for the same triple; repeated calls with sufficient allowance
// are side-effect-free.
type Manager struct {
	backend ChainBackend
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a new allowance manager
func NewManager(backend ChainBackend, logger *zap.Logger) *Manager {
	return &Manager{
		backend: backend,
		logger:  logger.Named("allowance"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureAllowance guarantees spender may pull at least requiredAmount of the
// asset from the wallet before returning. A submitted approval blocks until
// it confirms.
func (m *Manager) EnsureAllowance(ctx context.Context, w *wallet.EvmWallet, a asset.Asset, spender common.Address, requiredAmount *big.Int) (*Result, error) {
	if a.IsNative() {
		return &Result{AlreadySufficient: true}, nil
	}

	lock := m.lockFor(w.Address(), a.Address, spender.Hex())
	lock.Lock()
	defer lock.Unlock()

	current, err := m.backend.AllowanceOf(ctx, w.CommonAddress(), spender, a)
	if err != nil {
		return nil, apperrors.ApprovalFailed(err, "failed to read current allowance")
	}

	if current.Cmp(requiredAmount) >= 0 {
		metrics.ApprovalsTotal.WithLabelValues("sufficient").Inc()
		return &Result{AlreadySufficient: true}, nil
	}

	m.logger.Info("Allowance shortfall, approving maximum",
		zap.String("wallet", w.Address()),
		zap.String("asset", a.Symbol),
		zap.String("spender", spender.Hex()),
		zap.String("current", current.String()),
		zap.String("required", requiredAmount.String()))

	txHash, err := m.backend.Approve(ctx, w.Signer(), common.HexToAddress(a.Address), spender, maxUint256)
	if err != nil {
		metrics.ApprovalsTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.ApprovalFailed(err, "approval transaction failed to broadcast")
	}

	receipt, err := m.backend.AwaitReceipt(ctx, txHash)
	if err != nil {
		metrics.ApprovalsTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.ApprovalFailed(err, "approval transaction not mined in time")
	}
	if receipt.Status == 0 {
		metrics.ApprovalsTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.ApprovalFailed(nil, "approval transaction reverted: "+txHash.Hex())
	}

	metrics.ApprovalsTotal.WithLabelValues("approved").Inc()
	return &Result{TxHash: txHash}, nil
}

func (m *Manager) lockFor(parts ...string) *sync.Mutex {
	key := strings.ToLower(fmt.Sprintf("%s|%s|%s", parts[0], parts[1], parts[2]))

	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
