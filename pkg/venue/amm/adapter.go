// Package amm implements the AMM venue family: concentrated-liquidity pools
// with discrete fee tiers.
package amm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/chain/evm"
	"github.com/chainswap/swap-engine/pkg/venue"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// VenueID is the stable identifier of the AMM venue
const VenueID = "amm-pools"

const swapRouterABI = `[{"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],"name":"exactInputSingle","outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}]`

// Adapter prices and executes swaps against concentrated-liquidity pools.
//
// Tier selection is first-fit: tiers are scanned ascending and the first one
// with nonzero reported liquidity wins. This is not a best-price search across
// all viable tiers.
type Adapter struct {
	client    *evm.Client
	registry  PoolRegistry
	router    common.Address
	routerABI abi.ABI
	feeTiers  []uint32
	wrapped   string
	quoteTTL  time.Duration
	logger    *zap.Logger
}

// NewAdapter creates the AMM venue adapter
func NewAdapter(client *evm.Client, registry PoolRegistry, router common.Address, feeTiers []uint32, wrappedNative string, quoteTTL time.Duration, logger *zap.Logger) (*Adapter, error) {
	parsed, err := abi.JSON(strings.NewReader(swapRouterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap router ABI: %w", err)
	}

	tiers := make([]uint32, len(feeTiers))
	copy(tiers, feeTiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	return &Adapter{
		client:    client,
		registry:  registry,
		router:    router,
		routerABI: parsed,
		feeTiers:  tiers,
		wrapped:   wrappedNative,
		quoteTTL:  quoteTTL,
		logger:    logger.Named("amm"),
	}, nil
}

func (a *Adapter) ID() string { return VenueID }

func (a *Adapter) Spender() common.Address { return a.router }

// GetQuote scans fee tiers ascending and prices the sell through the first
// tier with nonzero liquidity. Native legs are priced as their wrapped token.
func (a *Adapter) GetQuote(ctx context.Context, req venue.QuoteRequest) (*venue.Quote, error) {
	sell := req.Sell.Wrapped(a.wrapped)
	buy := req.Buy.Wrapped(a.wrapped)
	tokenIn := common.HexToAddress(sell.Address)
	tokenOut := common.HexToAddress(buy.Address)

	for _, tier := range a.feeTiers {
		pool, err := a.registry.PoolFor(ctx, tokenIn, tokenOut, tier)
		if err != nil {
			return nil, apperrors.VenueUnavailable(err, VenueID, "pool registry lookup failed")
		}
		if pool == (common.Address{}) {
			continue
		}

		liquidity, err := a.registry.Liquidity(ctx, pool)
		if err != nil {
			return nil, apperrors.VenueUnavailable(err, VenueID, "pool liquidity read failed")
		}
		if liquidity.Sign() == 0 {
			continue
		}

		amountOut, err := a.registry.QuoteExactInput(ctx, tokenIn, tokenOut, tier, req.SellAmount)
		if err != nil {
			return nil, apperrors.VenueQuote(err, VenueID,
				fmt.Sprintf("quoter failed at fee tier %d", tier))
		}

		a.logger.Debug("Quoted through pool",
			zap.String("pool", pool.Hex()),
			zap.Uint32("fee_tier", tier),
			zap.String("amount_out", amountOut.String()))

		return &venue.Quote{
			VenueID:     VenueID,
			Sell:        req.Sell,
			Buy:         req.Buy,
			SellAmount:  req.SellAmount,
			BuyAmount:   amountOut,
			FeeAmount:   feeAmount(req.SellAmount, tier),
			SlippageBps: req.SlippageBps,
			ExpiresAt:   time.Now().Add(a.quoteTTL),
		}, nil
	}

	return nil, apperrors.InsufficientLiquidity(VenueID,
		fmt.Sprintf("no pool with liquidity for %s/%s in any fee tier", sell.Symbol, buy.Symbol))
}

// ExecuteSwap submits the swap through the router contract and waits for it
// to mine. AMM execution settles synchronously, so the returned order is
// already terminal.
func (a *Adapter) ExecuteSwap(ctx context.Context, w *wallet.EvmWallet, q *venue.Quote) (*venue.Order, error) {
	if q.Expired(time.Now()) {
		return nil, apperrors.QuoteExpired(VenueID, "quote expired before execution")
	}

	sell := q.Sell.Wrapped(a.wrapped)
	buy := q.Buy.Wrapped(a.wrapped)

	tier, err := a.firstLiquidTier(ctx, sell, buy)
	if err != nil {
		return nil, err
	}

	minOut := applySlippage(q.BuyAmount, q.SlippageBps)
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           common.HexToAddress(sell.Address),
		TokenOut:          common.HexToAddress(buy.Address),
		Fee:               big.NewInt(int64(tier)),
		Recipient:         w.CommonAddress(),
		AmountIn:          q.SellAmount,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}

	data, err := a.routerABI.Pack("exactInputSingle", params)
	if err != nil {
		return nil, apperrors.VenueExecution(err, VenueID, "failed to encode swap call")
	}

	// A native sell rides as transaction value; the router wraps it. A native
	// buy is unwrapped by the router to the recipient at settlement.
	value := big.NewInt(0)
	if q.Sell.IsNative() {
		value = q.SellAmount
	}

	txHash, err := a.client.SendContractTransaction(ctx, w.Signer(), a.router, value, data)
	if err != nil {
		return nil, apperrors.VenueExecution(err, VenueID, "swap transaction failed to broadcast")
	}

	receipt, err := a.client.AwaitReceipt(ctx, txHash)
	if err != nil {
		return nil, apperrors.VenueExecution(err, VenueID, "swap transaction not mined in time")
	}
	if receipt.Status == 0 {
		return nil, apperrors.VenueExecution(nil, VenueID,
			"swap transaction reverted: "+txHash.Hex())
	}

	return &venue.Order{
		ID:                 txHash.Hex(),
		VenueID:            VenueID,
		Sell:               q.Sell,
		Buy:                q.Buy,
		SellAmount:         q.SellAmount,
		BuyAmount:          q.BuyAmount,
		ExecutedSellAmount: q.SellAmount,
		ExecutedBuyAmount:  q.BuyAmount,
		State:              venue.OrderFulfilled,
		CreatedAt:          time.Now(),
	}, nil
}

func (a *Adapter) firstLiquidTier(ctx context.Context, sell, buy asset.Asset) (uint32, error) {
	tokenIn := common.HexToAddress(sell.Address)
	tokenOut := common.HexToAddress(buy.Address)

	for _, tier := range a.feeTiers {
		pool, err := a.registry.PoolFor(ctx, tokenIn, tokenOut, tier)
		if err != nil {
			return 0, apperrors.VenueUnavailable(err, VenueID, "pool registry lookup failed")
		}
		if pool == (common.Address{}) {
			continue
		}
		liquidity, err := a.registry.Liquidity(ctx, pool)
		if err != nil {
			return 0, apperrors.VenueUnavailable(err, VenueID, "pool liquidity read failed")
		}
		if liquidity.Sign() > 0 {
			return tier, nil
		}
	}
	return 0, apperrors.InsufficientLiquidity(VenueID, "liquidity disappeared before execution")
}

// feeAmount computes the venue fee taken from the sell side; tiers are in
// hundredths of a bip (1e-6)
func feeAmount(sellAmount *big.Int, tier uint32) *big.Int {
	fee := new(big.Int).Mul(sellAmount, big.NewInt(int64(tier)))
	return fee.Div(fee, big.NewInt(1_000_000))
}

func applySlippage(amount *big.Int, slippageBps int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(10_000-slippageBps)))
	return out.Div(out, big.NewInt(10_000))
}
