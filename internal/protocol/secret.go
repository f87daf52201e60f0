package protocol

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// SecretSize is the size of a session secret in bytes.
const SecretSize = 16

// ErrInvalidSecretFormat is returned when the secret text is not 32 hex characters.
var ErrInvalidSecretFormat = errors.New("invalid secret format")

// Secret is a random single-use value binding a not-yet-arrived connection
// to a pending game or a player slot.
// The zero Secret is never issued and means "invalid".
type Secret [SecretSize]byte

// NewSecret creates a new random secret.
func NewSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("read random: %w", err)
	}
	return s, nil
}

// IsZero reports whether s is the invalid sentinel.
func (s Secret) IsZero() bool {
	return s == Secret{}
}

// Equal compares secrets in constant time.
func (s Secret) Equal(other Secret) bool {
	return subtle.ConstantTimeCompare(s[:], other[:]) == 1
}

func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

func (s Secret) MarshalText() ([]byte, error) {
	res := make([]byte, hex.EncodedLen(SecretSize))
	hex.Encode(res, s[:])
	return res, nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(SecretSize) {
		return ErrInvalidSecretFormat
	}

	var decoded Secret
	if _, err := hex.Decode(decoded[:], text); err != nil {
		return ErrInvalidSecretFormat
	}

	*s = decoded
	return nil
}

// ParseSecret parses a secret from its text form.
func ParseSecret(text string) (Secret, error) {
	var s Secret
	err := s.UnmarshalText([]byte(text))
	return s, err
}

// WriteSecret writes the connection handshake: exactly [SecretSize] raw bytes.
func WriteSecret(w io.Writer, s Secret) error {
	if _, err := w.Write(s[:]); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	return nil
}

// ReadSecret reads the connection handshake.
// The stream ending before [SecretSize] bytes is an error.
func ReadSecret(r io.Reader) (Secret, error) {
	var s Secret
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return Secret{}, fmt.Errorf("read secret: %w", err)
	}
	return s, nil
}
