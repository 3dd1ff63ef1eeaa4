package wallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/chainswap/swap-engine/pkg/app/errors"
)

const (
	bip44Purpose = 44

	// minServerSecretLen is the minimum accepted server secret size in bytes
	minServerSecretLen = 32
)

// Deriver turns (userId, chainFamily, index) into a deterministic wallet.
//
// Every user owns a hardened subtree m/44'/coinType'/userSegment'/0/* of a
// single master seed, where userSegment = HMAC-SHA256(serverSecret, userId)
// mod 2^31. Same inputs and same secrets always produce the same address, so
// wallets are recoverable without any persistence.
type Deriver struct {
	master       *hdkeychain.ExtendedKey
	serverSecret []byte
	utxoParams   *chaincfg.Params
}

// NewDeriver builds a Deriver from the configured master mnemonic and server
// secret. Malformed secrets fail here, at startup, never per-request.
func NewDeriver(mnemonic, passphrase string, serverSecret []byte, utxoParams *chaincfg.Params) (*Deriver, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.Configuration(nil, "master seed mnemonic is missing or not a valid BIP-39 phrase")
	}
	if len(serverSecret) < minServerSecretLen {
		return nil, errors.Configuration(nil,
			fmt.Sprintf("server secret must be at least %d bytes", minServerSecretLen))
	}
	if utxoParams == nil {
		utxoParams = &chaincfg.MainNetParams
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, utxoParams)
	if err != nil {
		return nil, errors.Configuration(err, "failed to build master key from seed")
	}

	return &Deriver{
		master:       master,
		serverSecret: serverSecret,
		utxoParams:   utxoParams,
	}, nil
}

// Derive resolves the wallet at (userID, family, index)
func (d *Deriver) Derive(userID uint64, family ChainFamily, index uint32) (Wallet, error) {
	coinType, err := family.CoinType()
	if err != nil {
		return nil, err
	}

	segment := d.userSegment(userID)
	path := fmt.Sprintf("m/%d'/%d'/%d'/0/%d", bip44Purpose, coinType, segment, index)

	key := d.master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + bip44Purpose,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart + segment,
		0,
		index,
	} {
		key, err = key.Derive(step)
		if err != nil {
			return nil, errors.Derivation(err, "derivation failed at "+path)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, errors.Derivation(err, "failed to extract private key at "+path)
	}

	switch family {
	case FamilyEVM:
		// Build the key through go-ethereum so its curve handle matches the
		// one crypto.Sign compares against; btcec's ToECDSA uses a distinct
		// curve value that geth rejects.
		ecdsaKey, err := crypto.ToECDSA(priv.Serialize())
		if err != nil {
			return nil, errors.Derivation(err, "failed to convert private key at "+path)
		}
		return &EvmWallet{
			address: crypto.PubkeyToAddress(ecdsaKey.PublicKey),
			path:    path,
			key:     ecdsaKey,
		}, nil
	case FamilyUTXO:
		pubHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
		addr, err := btcutil.NewAddressWitnessPubKeyHash(pubHash, d.utxoParams)
		if err != nil {
			return nil, errors.Derivation(err, "failed to build segwit address at "+path)
		}
		return &UtxoWallet{
			address: addr,
			path:    path,
			key:     priv,
		}, nil
	default:
		return nil, errors.UnsupportedChainPair("unknown chain family: " + string(family))
	}
}

// userSegment maps a user id into a hardened account index. The HMAC keyed by
// the server secret keeps user subtrees unlinkable from the ids alone.
func (d *Deriver) userSegment(userID uint64) uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], userID)

	mac := hmac.New(sha256.New, d.serverSecret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	// mod 2^31 keeps the segment inside the hardened index range
	return binary.BigEndian.Uint32(sum[:4]) & 0x7FFFFFFF
}
