package amm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/venue"
)

const wrappedNative = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"

var (
	usdc = asset.Asset{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
	weth = asset.Asset{ChainID: 1, Address: wrappedNative, Symbol: "WETH", Decimals: 18}
	eth  = asset.Asset{ChainID: 1, Symbol: "ETH", Decimals: 18}
)

type tierState struct {
	pool      common.Address
	liquidity *big.Int
}

type mockRegistry struct {
	tiers     map[uint32]tierState
	amountOut *big.Int
	quoted    []uint32
	lastIn    common.Address
}

func (m *mockRegistry) PoolFor(_ context.Context, tokenIn, _ common.Address, fee uint32) (common.Address, error) {
	m.lastIn = tokenIn
	return m.tiers[fee].pool, nil
}

func (m *mockRegistry) Liquidity(_ context.Context, pool common.Address) (*big.Int, error) {
	for _, st := range m.tiers {
		if st.pool == pool {
			return st.liquidity, nil
		}
	}
	return big.NewInt(0), nil
}

func (m *mockRegistry) QuoteExactInput(_ context.Context, _, _ common.Address, fee uint32, _ *big.Int) (*big.Int, error) {
	m.quoted = append(m.quoted, fee)
	return m.amountOut, nil
}

func newTestAdapter(t *testing.T, registry PoolRegistry) *Adapter {
	t.Helper()
	a, err := NewAdapter(nil, registry, common.HexToAddress("0x05"), []uint32{3000, 100, 500}, wrappedNative, 30*time.Second, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestGetQuoteSkipsEmptyTiers(t *testing.T) {
	registry := &mockRegistry{
		tiers: map[uint32]tierState{
			// 100: no pool deployed
			500:  {pool: common.HexToAddress("0x11"), liquidity: big.NewInt(0)},
			3000: {pool: common.HexToAddress("0x22"), liquidity: big.NewInt(5000)},
		},
		amountOut: big.NewInt(990),
	}
	a := newTestAdapter(t, registry)

	q, err := a.GetQuote(context.Background(), venue.QuoteRequest{
		Sell:       usdc,
		Buy:        weth,
		SellAmount: big.NewInt(1_000_000),
	})
	require.NoError(t, err)

	// tiers scan ascending; the first tier with live liquidity wins
	assert.Equal(t, []uint32{3000}, registry.quoted)
	assert.Equal(t, big.NewInt(990), q.BuyAmount)
	assert.Equal(t, VenueID, q.VenueID)
	// 3000 hundredths of a bip on the sell side
	assert.Equal(t, big.NewInt(3000), q.FeeAmount)
	assert.False(t, q.Expired(time.Now()))
}

func TestGetQuoteNoLiquidityAnywhere(t *testing.T) {
	a := newTestAdapter(t, &mockRegistry{tiers: map[uint32]tierState{}})

	_, err := a.GetQuote(context.Background(), venue.QuoteRequest{
		Sell:       usdc,
		Buy:        weth,
		SellAmount: big.NewInt(1_000_000),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientLiquidity))
}

func TestGetQuotePricesNativeAsWrapped(t *testing.T) {
	registry := &mockRegistry{
		tiers: map[uint32]tierState{
			500: {pool: common.HexToAddress("0x11"), liquidity: big.NewInt(5000)},
		},
		amountOut: big.NewInt(990),
	}
	a := newTestAdapter(t, registry)

	_, err := a.GetQuote(context.Background(), venue.QuoteRequest{
		Sell:       eth,
		Buy:        usdc,
		SellAmount: big.NewInt(1_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(wrappedNative), registry.lastIn)
}

func TestExecuteSwapRejectsExpiredQuote(t *testing.T) {
	a := newTestAdapter(t, &mockRegistry{})

	_, err := a.ExecuteSwap(context.Background(), nil, &venue.Quote{
		VenueID:   VenueID,
		Sell:      usdc,
		Buy:       weth,
		ExpiresAt: time.Now().Add(-time.Second),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindQuoteExpired))
}

func TestApplySlippage(t *testing.T) {
	assert.Equal(t, big.NewInt(9950), applySlippage(big.NewInt(10_000), 50))
	assert.Equal(t, big.NewInt(10_000), applySlippage(big.NewInt(10_000), 0))
}
