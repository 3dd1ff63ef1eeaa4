package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Keystore encrypts small secrets (derived key exports, HTLC preimages) for
// storage outside the process. AES-256-GCM with an HKDF-derived key; the
// encryption secret is the same class of configuration as the server secret.
type Keystore struct {
	secret []byte
}

// NewKeystore creates a keystore over the given encryption secret
func NewKeystore(secret []byte) *Keystore {
	return &Keystore{secret: secret}
}

// Seal encrypts plaintext under a context label and returns base64 output.
// The label binds the ciphertext to its use (e.g. a swap id) so ciphertexts
// cannot be replayed across records.
func (k *Keystore) Seal(plaintext []byte, label string) (string, error) {
	key, err := k.deriveKey(label)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal with the same label
func (k *Keystore) Open(encoded, label string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	key, err := k.deriveKey(label)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// ExportEncrypted seals a wallet's raw key under its derivation path
func (k *Keystore) ExportEncrypted(w Wallet) (string, error) {
	return k.Seal(w.keyMaterial(), w.DerivationPath())
}

func (k *Keystore) deriveKey(label string) ([]byte, error) {
	reader := hkdf.New(sha256.New, k.secret, nil, []byte("keystore-"+label))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}
