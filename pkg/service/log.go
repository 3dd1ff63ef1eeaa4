package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/pkg/coordinator"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

const serviceName = "SwapService"

// logService wraps Service with automatic logging of all method calls
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the swap Service. It logs method
// entry/exit, duration and errors. Amounts are logged; key material and
// secrets never are.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

func (ls *logService) DeriveWallet(ctx context.Context, userID uint64, family wallet.ChainFamily, index uint32) (info *WalletInfo, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			ls.logger.Error("DeriveWallet failed",
				zap.String("service", serviceName),
				zap.Uint64("user_id", userID),
				zap.String("family", string(family)),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return
		}
		ls.logger.Info("DeriveWallet completed",
			zap.String("service", serviceName),
			zap.Uint64("user_id", userID),
			zap.String("family", string(family)),
			zap.Uint32("index", index),
			zap.String("address", info.Address),
			zap.Duration("duration", time.Since(start)))
	}()
	return ls.svc.DeriveWallet(ctx, userID, family, index)
}

func (ls *logService) ExecuteBestSwap(ctx context.Context, req *SwapRequest) (result *SwapResult, err error) {
	start := time.Now()
	ls.logger.Info("ExecuteBestSwap started",
		zap.String("service", serviceName),
		zap.Uint64("user_id", req.UserID),
		zap.String("sell", req.Sell.String()),
		zap.String("buy", req.Buy.String()),
		zap.String("sell_amount", req.SellAmount.String()))

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("ExecuteBestSwap failed",
				zap.String("service", serviceName),
				zap.Uint64("user_id", req.UserID),
				zap.Duration("duration", duration),
				zap.Error(err))
			return
		}
		ls.logger.Info("ExecuteBestSwap completed",
			zap.String("service", serviceName),
			zap.Uint64("user_id", req.UserID),
			zap.String("venue", result.VenueID),
			zap.String("order_id", result.OrderID),
			zap.String("state", result.State),
			zap.String("buy_amount", result.BuyAmount.String()),
			zap.Duration("duration", duration))
	}()
	return ls.svc.ExecuteBestSwap(ctx, req)
}

func (ls *logService) StartCrossChainSwap(ctx context.Context, req *CrossChainRequest) (sw *coordinator.Swap, err error) {
	start := time.Now()
	ls.logger.Info("StartCrossChainSwap started",
		zap.String("service", serviceName),
		zap.Uint64("user_id", req.UserID),
		zap.String("from_chain", req.FromChain),
		zap.String("to_chain", req.ToChain),
		zap.String("from_symbol", req.FromSymbol),
		zap.String("to_symbol", req.ToSymbol),
		zap.String("send_amount", req.SendAmount.String()))

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("StartCrossChainSwap failed",
				zap.String("service", serviceName),
				zap.Uint64("user_id", req.UserID),
				zap.Duration("duration", duration),
				zap.Error(err))
			return
		}
		ls.logger.Info("StartCrossChainSwap completed",
			zap.String("service", serviceName),
			zap.Uint64("user_id", req.UserID),
			zap.String("swap_id", sw.ID),
			zap.String("state", string(sw.State)),
			zap.Duration("duration", duration))
	}()
	return ls.svc.StartCrossChainSwap(ctx, req)
}

func (ls *logService) GetSwapStatus(ctx context.Context, id string) (*SwapStatus, error) {
	return ls.svc.GetSwapStatus(ctx, id)
}

func (ls *logService) Subscribe(sink coordinator.Sink) {
	ls.svc.Subscribe(sink)
}
