// Package asset defines the on-chain asset model shared by the routing and
// cross-chain subsystems.
package asset

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset identifies a token on a specific chain. A native gas asset carries an
// empty Address.
type Asset struct {
	ChainID  int64  `yaml:"chain_id" json:"chainId"`
	Address  string `yaml:"address" json:"address,omitempty"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// IsNative reports whether the asset is the chain's native gas asset
func (a Asset) IsNative() bool {
	return a.Address == ""
}

// Equal reports asset identity: same chain and same address, case-insensitive.
// Symbol and decimals are display metadata and do not participate.
func (a Asset) Equal(other Asset) bool {
	return a.ChainID == other.ChainID && strings.EqualFold(a.Address, other.Address)
}

// Wrapped returns the wrapped ERC-20 equivalent of a native asset, used by
// venue adapters that can only price token pairs. Calling it on a non-native
// asset returns the asset unchanged.
func (a Asset) Wrapped(wrappedAddress string) Asset {
	if !a.IsNative() {
		return a
	}
	return Asset{
		ChainID:  a.ChainID,
		Address:  wrappedAddress,
		Symbol:   "W" + a.Symbol,
		Decimals: a.Decimals,
	}
}

func (a Asset) String() string {
	if a.IsNative() {
		return fmt.Sprintf("%s(native@%d)", a.Symbol, a.ChainID)
	}
	return fmt.Sprintf("%s(%s@%d)", a.Symbol, a.Address, a.ChainID)
}

// ToBaseUnits converts a human-unit amount to the asset's smallest unit.
// Fractions below the smallest unit are truncated.
func (a Asset) ToBaseUnits(amount decimal.Decimal) *big.Int {
	scaled := amount.Shift(int32(a.Decimals))
	return scaled.Truncate(0).BigInt()
}

// FromBaseUnits converts a smallest-unit amount back to human units
func (a Asset) FromBaseUnits(amount *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).Shift(-int32(a.Decimals))
}
