package auth

import (
	"encoding/base64"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

const linkKeyContext = "helpcenter:outbound-link:"

// ErrMissingLinkSecret is returned when no secret is available for link signatures.
var ErrMissingLinkSecret = errors.New("link signer: secret required")

// LinkSigner authenticates outbound link targets with HS256 so the click
// redirect only serves links that were rendered by this service.
type LinkSigner struct {
	key []byte
}

// NewLinkSigner derives a link key from secret. The key differs from the
// session key even when both come from the same configured secret.
func NewLinkSigner(secret []byte) (*LinkSigner, error) {
	if len(secret) == 0 {
		return nil, ErrMissingLinkSecret
	}
	key := make([]byte, 0, len(linkKeyContext)+len(secret))
	key = append(key, linkKeyContext...)
	key = append(key, secret...)
	return &LinkSigner{key: key}, nil
}

// Sign returns the URL-safe signature of target.
func (s *LinkSigner) Sign(target string) string {
	signature, err := jwt.SigningMethodHS256.Sign(target, s.key)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(signature)
}

// Verify reports whether signature was produced by Sign for target.
func (s *LinkSigner) Verify(target, signature string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil || len(raw) == 0 {
		return false
	}
	return jwt.SigningMethodHS256.Verify(target, raw, s.key) == nil
}
