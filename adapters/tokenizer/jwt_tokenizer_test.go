package tokenizer

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/bnbvote/core"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestJWTTokenizer_RoundTrip(t *testing.T) {
	issued := time.Now().Truncate(time.Second)
	tok, err := NewJWTTokenizer(testSecret, fixedNow(issued.Add(time.Minute)))
	require.NoError(t, err)

	session := &core.Session{
		ID:        "jti-1",
		Address:   "0xabc0000000000000000000000000000000000001",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(7 * 24 * time.Hour),
	}

	token, err := tok.SessionToToken(session)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	got, err := tok.TokenToSession(token)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.Address, got.Address)
	assert.True(t, session.IssuedAt.Equal(got.IssuedAt))
	assert.True(t, session.ExpiresAt.Equal(got.ExpiresAt))
}

func TestJWTTokenizer_Expired(t *testing.T) {
	issued := time.Now().Truncate(time.Second)
	now := issued
	tok, err := NewJWTTokenizer(testSecret, func() time.Time { return now })
	require.NoError(t, err)

	token, err := tok.SessionToToken(&core.Session{
		ID:        "jti-1",
		Address:   "0xabc",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	})
	require.NoError(t, err)

	now = issued.Add(2 * time.Hour)
	_, err = tok.TokenToSession(token)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestJWTTokenizer_RejectsTamperedOrForeignTokens(t *testing.T) {
	issued := time.Now().Truncate(time.Second)
	tok, err := NewJWTTokenizer(testSecret, fixedNow(issued))
	require.NoError(t, err)
	other, err := NewJWTTokenizer([]byte("ffffffffffffffffffffffffffffffff"), fixedNow(issued))
	require.NoError(t, err)

	session := &core.Session{ID: "jti-1", Address: "0xabc", IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}
	token, err := tok.SessionToToken(session)
	require.NoError(t, err)
	foreign, err := other.SessionToToken(session)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	for name, candidate := range map[string]string{
		"tampered": tampered,
		"foreign":  foreign,
		"garbage":  "not-a-token",
		"empty":    "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tok.TokenToSession(candidate)
			var authErr *core.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.ErrorIs(t, err, core.ErrInvalidToken)
		})
	}
}

func TestNewJWTTokenizer_ShortSecret(t *testing.T) {
	_, err := NewJWTTokenizer([]byte("short"), nil)
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message := core.ChallengeMessage("BNBvote", "482913")
	signature, err := SignMessage(message, func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, key)
	})
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, VerifySignature(message, signature, address))
	})

	t.Run("address case does not matter", func(t *testing.T) {
		assert.NoError(t, VerifySignature(message, signature, strings.ToLower(address)))
	})

	t.Run("different message", func(t *testing.T) {
		err := VerifySignature(core.ChallengeMessage("OtherApp", "482913"), signature, address)
		assert.ErrorIs(t, err, core.ErrInvalidSignature)
	})

	t.Run("different signer", func(t *testing.T) {
		otherKey, err := crypto.GenerateKey()
		require.NoError(t, err)
		err = VerifySignature(message, signature, crypto.PubkeyToAddress(otherKey.PublicKey).Hex())
		assert.ErrorIs(t, err, core.ErrInvalidSignature)
	})

	t.Run("mutated signature", func(t *testing.T) {
		// one byte of R, then one byte of S
		for _, i := range []int{5, 32 + 17} {
			err := VerifySignature(message, flipByte(t, signature, i), address)
			assert.ErrorIs(t, err, core.ErrInvalidSignature, "byte %d", i)
		}
	})

	t.Run("malformed signature", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature(message, "0x1234", address), core.ErrInvalidSignature)
		assert.ErrorIs(t, VerifySignature(message, "zz", address), core.ErrInvalidSignature)
	})

	t.Run("malformed address", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature(message, signature, "bob"), core.ErrInvalidAddress)
	})
}

func flipByte(t *testing.T, signature string, i int) string {
	t.Helper()
	sig, err := hexutil.Decode(signature)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	sig[i] ^= 0x01
	return hexutil.Encode(sig)
}
