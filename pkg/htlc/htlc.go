// Package htlc drives the hash-time-locked contract on the account-based
// source leg of a cross-chain swap.
package htlc

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainswap/swap-engine/pkg/chain/evm"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

const contractABI = `[
	{"inputs":[{"name":"redeemer","type":"address"},{"name":"secretHash","type":"bytes32"},{"name":"timelock","type":"uint256"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"name":"initiate","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"name":"secretHash","type":"bytes32"},{"name":"secret","type":"bytes"}],"name":"redeem","outputs":[],"type":"function"},
	{"inputs":[{"name":"secretHash","type":"bytes32"}],"name":"refund","outputs":[],"type":"function"},
	{"constant":true,"inputs":[{"name":"secretHash","type":"bytes32"}],"name":"getSwap","outputs":[{"name":"initiator","type":"address"},{"name":"redeemer","type":"address"},{"name":"amount","type":"uint256"},{"name":"timelock","type":"uint256"},{"name":"redeemed","type":"bool"},{"name":"refunded","type":"bool"}],"type":"function"}
]`

// SettlementState is the on-chain view of a locked leg
type SettlementState struct {
	Redeemed bool
	Refunded bool
}

// Settled reports whether the leg has already reached a terminal on-chain state
func (s SettlementState) Settled() bool {
	return s.Redeemed || s.Refunded
}

// Contract is a caller for the deployed HTLC contract
type Contract struct {
	client  *evm.Client
	address common.Address
	abi     abi.ABI
	logger  *zap.Logger
}

// NewContract binds the HTLC contract at the given address
func NewContract(client *evm.Client, address common.Address, logger *zap.Logger) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTLC ABI: %w", err)
	}
	return &Contract{
		client:  client,
		address: address,
		abi:     parsed,
		logger:  logger.Named("htlc"),
	}, nil
}

// Initiate locks amount under secretHash until timelock. A zero token address
// locks the native asset, carried as transaction value.
func (c *Contract) Initiate(ctx context.Context, w *wallet.EvmWallet, redeemer common.Address, secretHash [32]byte, timelock time.Time, token common.Address, amount *big.Int) (common.Hash, error) {
	data, err := c.abi.Pack("initiate", redeemer, secretHash, big.NewInt(timelock.Unix()), token, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack initiate: %w", err)
	}

	value := big.NewInt(0)
	if token == (common.Address{}) {
		value = amount
	}

	txHash, err := c.client.SendContractTransaction(ctx, w.Signer(), c.address, value, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to initiate lock: %w", err)
	}

	c.logger.Info("HTLC initiated",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("secret_hash", common.Hash(secretHash).Hex()),
		zap.Time("timelock", timelock))

	return txHash, nil
}

// Redeem spends a locked leg by revealing the secret
func (c *Contract) Redeem(ctx context.Context, w *wallet.EvmWallet, secretHash [32]byte, secret []byte) (common.Hash, error) {
	data, err := c.abi.Pack("redeem", secretHash, secret)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack redeem: %w", err)
	}
	txHash, err := c.client.SendContractTransaction(ctx, w.Signer(), c.address, big.NewInt(0), data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to redeem: %w", err)
	}
	return txHash, nil
}

// Refund recovers a locked leg after its timelock elapsed
func (c *Contract) Refund(ctx context.Context, w *wallet.EvmWallet, secretHash [32]byte) (common.Hash, error) {
	data, err := c.abi.Pack("refund", secretHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack refund: %w", err)
	}
	txHash, err := c.client.SendContractTransaction(ctx, w.Signer(), c.address, big.NewInt(0), data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to refund: %w", err)
	}
	return txHash, nil
}

// State reads the leg's current settlement state
func (c *Contract) State(ctx context.Context, secretHash [32]byte) (SettlementState, error) {
	data, err := c.abi.Pack("getSwap", secretHash)
	if err != nil {
		return SettlementState{}, fmt.Errorf("failed to pack getSwap: %w", err)
	}
	raw, err := c.client.Call(ctx, c.address, data)
	if err != nil {
		return SettlementState{}, fmt.Errorf("failed to call getSwap: %w", err)
	}

	out, err := c.abi.Unpack("getSwap", raw)
	if err != nil {
		return SettlementState{}, fmt.Errorf("failed to decode getSwap: %w", err)
	}
	if len(out) != 6 {
		return SettlementState{}, fmt.Errorf("unexpected getSwap output arity: %d", len(out))
	}

	redeemed, _ := out[4].(bool)
	refunded, _ := out[5].(bool)
	return SettlementState{Redeemed: redeemed, Refunded: refunded}, nil
}
