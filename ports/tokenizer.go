package ports

import "github.com/layer-3/bnbvote/core"

// Tokenizer converts between sessions and signed tokens, and verifies
// wallet signatures
type Tokenizer interface {
	SessionToToken(session *core.Session) (string, error)
	TokenToSession(token string) (*core.Session, error)

	// VerifySignature checks that signature over message was produced by
	// the key controlling address
	VerifySignature(message, signature, address string) error
}
