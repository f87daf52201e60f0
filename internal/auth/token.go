// Package auth implements identity tokens for the control-plane API.
//
// Identities are issued by an external account service. That service shares
// a secret with the broker and hands out tokens: the identity followed by an
// HMAC-SHA256 signature of it.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token signature does not match.
var ErrInvalidToken = errors.New("invalid token")

const idSize = len(uuid.UUID{})

// TokenSize is the size of a raw token.
const TokenSize = idSize + sha256.Size

// Token is an identity joined with its 32-byte signature.
type Token [TokenSize]byte

// Identity returns the identity part of the token.
func (t Token) Identity() uuid.UUID {
	var id uuid.UUID
	copy(id[:], t[:idSize])
	return id
}

func (t Token) String() string {
	return base64.URLEncoding.EncodeToString(t[:])
}

func (t Token) MarshalText() ([]byte, error) {
	res := make([]byte, base64.URLEncoding.EncodedLen(len(t)))
	base64.URLEncoding.Encode(res, t[:])
	return res, nil
}

func (t *Token) UnmarshalText(text []byte) error {
	decoded := make([]byte, base64.URLEncoding.DecodedLen(len(text)))
	n, err := base64.URLEncoding.Decode(decoded, text)
	if err != nil {
		return err
	}

	if n != TokenSize {
		return fmt.Errorf("invalid token size %d", n)
	}

	copy(t[:], decoded)
	return nil
}

// ParseToken parses a token from a string.
func ParseToken(text string) (Token, error) {
	var token Token
	err := token.UnmarshalText([]byte(text))
	return token, err
}

// NewToken creates a new token by signing an identity with a secret.
func NewToken(id uuid.UUID, secret []byte) Token {
	var token Token
	copy(token[:idSize], id[:])

	h := hmac.New(sha256.New, secret)
	h.Write(token[:idSize])

	h.Sum(token[:idSize]) // appends the signature right after the identity

	return token
}

// VerifyToken checks if a token is valid by checking its HMAC signature.
func VerifyToken(secret []byte, token Token) bool {
	h := hmac.New(sha256.New, secret)
	h.Write(token[:idSize])

	expected := h.Sum(nil)
	return hmac.Equal(token[idSize:], expected)
}

type ctxKey string

var identityCtxKey = ctxKey("identity")

// ContextWithIdentity returns a new context with the given identity.
func ContextWithIdentity(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFromContext returns an identity from the context.
func IdentityFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(identityCtxKey).(uuid.UUID)
	return id, ok
}
