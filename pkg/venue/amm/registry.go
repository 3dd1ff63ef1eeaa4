package amm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainswap/swap-engine/pkg/chain/evm"
)

const (
	factoryABI = `[{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"name":"pool","type":"address"}],"type":"function"}]`
	poolABI    = `[{"constant":true,"inputs":[],"name":"liquidity","outputs":[{"name":"","type":"uint128"}],"type":"function"}]`
	quoterABI  = `[{"constant":false,"inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"amountIn","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"quoteExactInputSingle","outputs":[{"name":"amountOut","type":"uint256"}],"type":"function"}]`
)

// PoolRegistry resolves pools and prices for a concentrated-liquidity venue
type PoolRegistry interface {
	// PoolFor returns the pool for a pair at a fee tier; the zero address
	// means no pool exists for that tier
	PoolFor(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32) (common.Address, error)
	// Liquidity returns the pool's currently reported in-range liquidity
	Liquidity(ctx context.Context, pool common.Address) (*big.Int, error)
	// QuoteExactInput prices an exact-input swap through a single tier
	QuoteExactInput(ctx context.Context, tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, error)
}

// ChainRegistry is the live on-chain PoolRegistry backed by the factory and
// quoter contracts.
type ChainRegistry struct {
	client  *evm.Client
	factory common.Address
	quoter  common.Address

	factoryABI abi.ABI
	poolABI    abi.ABI
	quoterABI  abi.ABI
}

// NewChainRegistry builds a registry over the deployed factory and quoter
func NewChainRegistry(client *evm.Client, factory, quoter common.Address) (*ChainRegistry, error) {
	fABI, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	pABI, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}
	qABI, err := abi.JSON(strings.NewReader(quoterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoter ABI: %w", err)
	}

	return &ChainRegistry{
		client:     client,
		factory:    factory,
		quoter:     quoter,
		factoryABI: fABI,
		poolABI:    pABI,
		quoterABI:  qABI,
	}, nil
}

func (r *ChainRegistry) PoolFor(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32) (common.Address, error) {
	data, err := r.factoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(feeTier)))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getPool: %w", err)
	}
	result, err := r.client.Call(ctx, r.factory, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call getPool: %w", err)
	}
	return common.BytesToAddress(result), nil
}

func (r *ChainRegistry) Liquidity(ctx context.Context, pool common.Address) (*big.Int, error) {
	data, err := r.poolABI.Pack("liquidity")
	if err != nil {
		return nil, fmt.Errorf("failed to pack liquidity: %w", err)
	}
	result, err := r.client.Call(ctx, pool, data)
	if err != nil {
		return nil, fmt.Errorf("failed to call liquidity: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

func (r *ChainRegistry) QuoteExactInput(ctx context.Context, tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, error) {
	data, err := r.quoterABI.Pack("quoteExactInputSingle",
		tokenIn, tokenOut, big.NewInt(int64(feeTier)), amountIn, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("failed to pack quoteExactInputSingle: %w", err)
	}
	result, err := r.client.Call(ctx, r.quoter, data)
	if err != nil {
		return nil, fmt.Errorf("failed to call quoter: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}
