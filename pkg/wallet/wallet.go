// Package wallet implements deterministic, recoverable key derivation.
//
// A wallet is always re-derivable from (userId, chainFamily, index) plus the
// process-wide master seed and server secret; nothing here is persisted with
// raw key material.
package wallet

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainswap/swap-engine/pkg/app/errors"
)

// ChainFamily tags the address and transaction format of a chain
type ChainFamily string

const (
	// FamilyEVM covers account-based chains with secp256k1 keccak addresses
	FamilyEVM ChainFamily = "evm"
	// FamilyUTXO covers Bitcoin-style chains with output-based accounting
	FamilyUTXO ChainFamily = "utxo"
)

// CoinType returns the BIP-44 coin type for the family
func (f ChainFamily) CoinType() (uint32, error) {
	switch f {
	case FamilyEVM:
		return 60, nil
	case FamilyUTXO:
		return 0, nil
	default:
		return 0, errors.UnsupportedChainPair("unknown chain family: " + string(f))
	}
}

// Wallet is a derived signing wallet. The two concrete variants are EvmWallet
// and UtxoWallet; callers dispatch with a type switch, never by inspecting a
// family field on a shared struct.
type Wallet interface {
	Family() ChainFamily
	Address() string
	DerivationPath() string

	// keyMaterial returns the raw private key for keystore export. Unexported
	// so key bytes never leave this package uncontrolled.
	keyMaterial() []byte
}

// EvmWallet is a derived wallet on an account-based chain
type EvmWallet struct {
	address common.Address
	path    string
	key     *ecdsa.PrivateKey
}

func (w *EvmWallet) Family() ChainFamily    { return FamilyEVM }
func (w *EvmWallet) Address() string        { return w.address.Hex() }
func (w *EvmWallet) DerivationPath() string { return w.path }

// CommonAddress returns the address in go-ethereum's native form
func (w *EvmWallet) CommonAddress() common.Address { return w.address }

// Signer returns the signing key handle for the broadcast backend
func (w *EvmWallet) Signer() *ecdsa.PrivateKey { return w.key }

func (w *EvmWallet) keyMaterial() []byte {
	return w.key.D.Bytes()
}

// UtxoWallet is a derived wallet on a Bitcoin-style chain
type UtxoWallet struct {
	address btcutil.Address
	path    string
	key     *btcec.PrivateKey
}

func (w *UtxoWallet) Family() ChainFamily    { return FamilyUTXO }
func (w *UtxoWallet) Address() string        { return w.address.EncodeAddress() }
func (w *UtxoWallet) DerivationPath() string { return w.path }

// Key returns the signing key handle
func (w *UtxoWallet) Key() *btcec.PrivateKey { return w.key }

func (w *UtxoWallet) keyMaterial() []byte {
	return w.key.Serialize()
}
