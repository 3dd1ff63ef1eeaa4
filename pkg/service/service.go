// Package service is the process-facing API of the swap engine. It composes
// derivation, routing, order monitoring and the cross-chain coordinator
// behind one interface.
package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/coordinator"
	"github.com/chainswap/swap-engine/pkg/monitor"
	"github.com/chainswap/swap-engine/pkg/router"
	"github.com/chainswap/swap-engine/pkg/tokens"
	"github.com/chainswap/swap-engine/pkg/venue"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// WalletInfo is the externally visible shape of a derived wallet. Key
// material never leaves the service.
type WalletInfo struct {
	Address string             `json:"address"`
	Family  wallet.ChainFamily `json:"family"`
	Path    string             `json:"path"`
}

// SwapRequest asks for best execution of a same-chain swap
type SwapRequest struct {
	UserID      uint64
	WalletIndex uint32
	Sell        asset.Asset
	Buy         asset.Asset
	SellAmount  *big.Int
	SlippageBps int
}

// SwapResult is the final outcome of a routed swap after monitoring
type SwapResult struct {
	VenueID        string       `json:"venueId"`
	OrderID        string       `json:"orderId"`
	State          string       `json:"state"`
	SellAmount     *big.Int     `json:"sellAmount"`
	BuyAmount      *big.Int     `json:"buyAmount"`
	ApprovalTxHash string       `json:"approvalTxHash,omitempty"`
	Order          *venue.Order `json:"-"`
}

// CrossChainRequest asks for an atomic swap across chains. Assets are named
// by symbol and resolved against the token list.
type CrossChainRequest struct {
	UserID      uint64
	WalletIndex uint32
	FromChain   string
	ToChain     string
	FromFamily  wallet.ChainFamily
	FromSymbol  string
	ToSymbol    string
	SendAmount  *big.Int
}

// SwapStatus reports the current state of either a routed order or a
// cross-chain swap
type SwapStatus struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	State     string            `json:"state"`
	CrossSwap *coordinator.Swap `json:"crossChainSwap,omitempty"`
	Order     *venue.Order      `json:"order,omitempty"`
}

// Service is the swap engine's public operation set
type Service interface {
	DeriveWallet(ctx context.Context, userID uint64, family wallet.ChainFamily, index uint32) (*WalletInfo, error)
	ExecuteBestSwap(ctx context.Context, req *SwapRequest) (*SwapResult, error)
	StartCrossChainSwap(ctx context.Context, req *CrossChainRequest) (*coordinator.Swap, error)
	GetSwapStatus(ctx context.Context, id string) (*SwapStatus, error)
	Subscribe(sink coordinator.Sink)
}

// MonitorConfig bounds post-execution order monitoring
type MonitorConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

type swapService struct {
	deriver  *wallet.Deriver
	router   *router.Router
	coord    *coordinator.Coordinator
	tokens   *tokens.Registry
	monitors map[string]*monitor.Monitor
	monCfg   MonitorConfig
	logger   *zap.Logger

	mu     sync.RWMutex
	orders map[string]*venue.Order
}

// New assembles the swap service. monitors maps venue ids to their order
// status monitors; venues whose orders settle synchronously need no entry.
// registry backs cross-chain symbol resolution and may be nil when no token
// list is configured.
func New(deriver *wallet.Deriver, rt *router.Router, coord *coordinator.Coordinator, registry *tokens.Registry, monitors map[string]*monitor.Monitor, monCfg MonitorConfig, logger *zap.Logger) Service {
	return &swapService{
		deriver:  deriver,
		router:   rt,
		coord:    coord,
		tokens:   registry,
		monitors: monitors,
		monCfg:   monCfg,
		logger:   logger,
		orders:   make(map[string]*venue.Order),
	}
}

func (s *swapService) DeriveWallet(ctx context.Context, userID uint64, family wallet.ChainFamily, index uint32) (*WalletInfo, error) {
	w, err := s.deriver.Derive(userID, family, index)
	if err != nil {
		return nil, err
	}
	return &WalletInfo{
		Address: w.Address(),
		Family:  w.Family(),
		Path:    w.DerivationPath(),
	}, nil
}

func (s *swapService) ExecuteBestSwap(ctx context.Context, req *SwapRequest) (*SwapResult, error) {
	w, err := s.deriver.Derive(req.UserID, wallet.FamilyEVM, req.WalletIndex)
	if err != nil {
		return nil, err
	}

	outcome, err := s.router.RouteBestSwap(ctx, w, req.Sell, req.Buy, req.SellAmount, req.SlippageBps)
	if err != nil {
		return nil, err
	}

	order := outcome.Order
	if !order.State.Terminal() {
		mon, ok := s.monitors[order.VenueID]
		if !ok {
			return nil, apperrors.VenueExecution(nil, order.VenueID, fmt.Sprintf("no monitor for open order %s", order.ID))
		}
		watched, err := mon.AwaitTerminal(ctx, order.ID, s.monCfg.PollInterval, s.monCfg.Timeout)
		if err != nil {
			return nil, err
		}
		if watched.Order != nil {
			order = watched.Order
		}
		order.State = watched.State
	}

	s.mu.Lock()
	s.orders[order.ID] = order
	s.mu.Unlock()

	result := &SwapResult{
		VenueID:    order.VenueID,
		OrderID:    order.ID,
		State:      string(order.State),
		SellAmount: order.SellAmount,
		BuyAmount:  order.BuyAmount,
		Order:      order,
	}
	if outcome.ApprovalTxHash != nil {
		result.ApprovalTxHash = outcome.ApprovalTxHash.Hex()
	}
	return result, nil
}

func (s *swapService) StartCrossChainSwap(ctx context.Context, req *CrossChainRequest) (*coordinator.Swap, error) {
	if s.tokens == nil {
		return nil, apperrors.Configuration(nil, "no token list configured for cross-chain swaps")
	}
	from, err := s.tokens.Resolve(req.FromChain, req.FromSymbol)
	if err != nil {
		return nil, err
	}
	to, err := s.tokens.Resolve(req.ToChain, req.ToSymbol)
	if err != nil {
		return nil, err
	}

	w, err := s.deriver.Derive(req.UserID, req.FromFamily, req.WalletIndex)
	if err != nil {
		return nil, err
	}

	quote, err := s.coord.GetQuote(ctx, req.FromChain, req.ToChain, from, to, req.SendAmount)
	if err != nil {
		return nil, err
	}
	return s.coord.CreateSwap(ctx, req.UserID, req.WalletIndex, w, quote)
}

func (s *swapService) GetSwapStatus(ctx context.Context, id string) (*SwapStatus, error) {
	if sw, ok := s.coord.Swap(id); ok {
		return &SwapStatus{
			ID:        sw.ID,
			Kind:      "cross_chain",
			State:     string(sw.State),
			CrossSwap: sw,
		}, nil
	}

	s.mu.RLock()
	order, ok := s.orders[id]
	s.mu.RUnlock()
	if ok {
		return &SwapStatus{
			ID:    order.ID,
			Kind:  "order",
			State: string(order.State),
			Order: order,
		}, nil
	}

	return nil, fmt.Errorf("unknown swap or order id %s", id)
}

func (s *swapService) Subscribe(sink coordinator.Sink) {
	s.coord.Subscribe(sink)
}
