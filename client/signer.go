package client

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/bnbvote/adapters/tokenizer"
)

// Signer signs challenge messages on behalf of a wallet
type Signer interface {
	Address() string
	SignMessage(message string) (string, error)
}

// KeySigner signs with a local secp256k1 private key, producing the same
// personal_sign signatures a browser wallet would
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeySigner wraps key
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// ParseKeySigner loads a hex encoded private key, with or without 0x
func ParseKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() string {
	return s.address
}

func (s *KeySigner) SignMessage(message string) (string, error) {
	return tokenizer.SignMessage(message, func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, s.key)
	})
}
