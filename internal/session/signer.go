package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/go-faster/errors"
)

// ErrInvalidToken is returned for tokens that are malformed or whose
// signature does not match.
var ErrInvalidToken = errors.New("invalid session token")

// minSecretLen is the shortest accepted signing secret.
const minSecretLen = 16

var encoding = base64.RawURLEncoding

// Signer authenticates session tokens with HMAC-SHA256.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer keyed by secret.
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < minSecretLen {
		return nil, errors.Errorf("session secret must be at least %d bytes", minSecretLen)
	}
	return &Signer{key: []byte(secret)}, nil
}

// Sign returns "<payload>.<mac>", both base64url encoded.
func (s *Signer) Sign(payload []byte) string {
	return encoding.EncodeToString(payload) + "." + encoding.EncodeToString(s.mac(payload))
}

// Verify checks the token signature and returns the payload.
func (s *Signer) Verify(token string) ([]byte, error) {
	rawPayload, rawMAC, ok := cut(token)
	if !ok {
		return nil, ErrInvalidToken
	}
	payload, err := encoding.DecodeString(rawPayload)
	if err != nil {
		return nil, ErrInvalidToken
	}
	mac, err := encoding.DecodeString(rawMAC)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(mac, s.mac(payload)) {
		return nil, ErrInvalidToken
	}
	return payload, nil
}

func (s *Signer) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return h.Sum(nil)
}

func cut(token string) (payload, mac string, ok bool) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}
