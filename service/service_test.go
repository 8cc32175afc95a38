package service

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/bnbvote/adapters/tokenizer"
)

type publishedEvent struct {
	Topic   string
	Address string
	ID      string
	Reason  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishLogout(ctx context.Context, address string, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: "logout", Address: address, ID: tokenID})
	return p.err
}

func (p *recordingPublisher) PublishCardsChanged(ctx context.Context, cardID string, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: "cards", ID: cardID, Reason: reason})
	return p.err
}

func (p *recordingPublisher) Events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := tokenizer.SignMessage(message, func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, w.key)
	})
	require.NoError(t, err)
	return sig
}
