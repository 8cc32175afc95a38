package tokenizer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/bnbvote/core"
)

// VerifySignature checks that signature is an EIP-191 personal_sign
// signature of message produced by address. Addresses compare
// case-insensitively.
func VerifySignature(message, signature, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %q", core.ErrInvalidAddress, address)
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}

	if !strings.EqualFold(recovered.Hex(), common.HexToAddress(address).Hex()) {
		return core.ErrInvalidSignature
	}
	return nil
}

// RecoverAddress returns the address that produced signature over message
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", core.ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}

	// Wallets emit V as 27/28, go-ethereum expects 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", core.ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignMessage produces a personal_sign signature in wallet format (V of 27/28)
func SignMessage(message string, sign func(hash []byte) ([]byte, error)) (string, error) {
	sig, err := sign(accounts.TextHash([]byte(message)))
	if err != nil {
		return "", err
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("unexpected signature length %d", len(sig))
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
