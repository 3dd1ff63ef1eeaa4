package wallet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainswap/swap-engine/pkg/app/errors"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var testServerSecret = bytes.Repeat([]byte{0xAB}, 32)

func newTestDeriver(t *testing.T) *Deriver {
	t.Helper()
	d, err := NewDeriver(testMnemonic, "", testServerSecret, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return d
}

func TestDeriveIsDeterministic(t *testing.T) {
	d1 := newTestDeriver(t)
	d2 := newTestDeriver(t)

	for _, family := range []ChainFamily{FamilyEVM, FamilyUTXO} {
		w1, err := d1.Derive(42, family, 0)
		require.NoError(t, err)
		w2, err := d2.Derive(42, family, 0)
		require.NoError(t, err)

		assert.Equal(t, w1.Address(), w2.Address())
		assert.Equal(t, w1.DerivationPath(), w2.DerivationPath())
	}
}

func TestDeriveSeparatesUsersAndIndices(t *testing.T) {
	d := newTestDeriver(t)

	a, err := d.Derive(1, FamilyEVM, 0)
	require.NoError(t, err)
	b, err := d.Derive(2, FamilyEVM, 0)
	require.NoError(t, err)
	c, err := d.Derive(1, FamilyEVM, 1)
	require.NoError(t, err)

	assert.NotEqual(t, a.Address(), b.Address())
	assert.NotEqual(t, a.Address(), c.Address())
	assert.NotEqual(t, b.Address(), c.Address())
}

func TestDeriveFamilyDispatch(t *testing.T) {
	d := newTestDeriver(t)

	evm, err := d.Derive(7, FamilyEVM, 0)
	require.NoError(t, err)
	require.IsType(t, &EvmWallet{}, evm)
	assert.True(t, strings.HasPrefix(evm.Address(), "0x"))
	assert.Contains(t, evm.DerivationPath(), "/60'/")

	utxo, err := d.Derive(7, FamilyUTXO, 0)
	require.NoError(t, err)
	require.IsType(t, &UtxoWallet{}, utxo)
	assert.True(t, strings.HasPrefix(utxo.Address(), "bc1"))
	assert.Contains(t, utxo.DerivationPath(), "/0'/")
}

func TestDeriveUnknownFamily(t *testing.T) {
	d := newTestDeriver(t)

	_, err := d.Derive(7, ChainFamily("solana"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindUnsupportedChainPair))
}

func TestServerSecretChangesSubtrees(t *testing.T) {
	d1 := newTestDeriver(t)
	d2, err := NewDeriver(testMnemonic, "", bytes.Repeat([]byte{0xCD}, 32), &chaincfg.MainNetParams)
	require.NoError(t, err)

	w1, err := d1.Derive(42, FamilyEVM, 0)
	require.NoError(t, err)
	w2, err := d2.Derive(42, FamilyEVM, 0)
	require.NoError(t, err)

	assert.NotEqual(t, w1.Address(), w2.Address())
}

func TestNewDeriverRejectsBadConfig(t *testing.T) {
	_, err := NewDeriver("not a mnemonic", "", testServerSecret, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConfiguration))

	_, err = NewDeriver(testMnemonic, "", []byte("short"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConfiguration))
}

func TestKeystoreRoundTrip(t *testing.T) {
	ks := NewKeystore(testServerSecret)

	sealed, err := ks.Seal([]byte("preimage"), "swap-1")
	require.NoError(t, err)

	opened, err := ks.Open(sealed, "swap-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("preimage"), opened)

	// a different label must not open the ciphertext
	_, err = ks.Open(sealed, "swap-2")
	require.Error(t, err)
}
