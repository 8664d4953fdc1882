// Package pkce verifies Proof Key for Code Exchange challenges (RFC 7636)
// attached to an authorization grant.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/matrix-auth/core/store"
)

// ErrMismatch is returned when verifier does not produce challenge under
// method.
var ErrMismatch = errors.New("pkce: verifier does not match challenge")

// ErrUnsupportedMethod is returned for any method other than "plain" or
// "S256".
var ErrUnsupportedMethod = errors.New("pkce: unsupported challenge method")

// Verify checks verifier against p, in constant time for both supported
// methods.
func Verify(p store.PKCE, verifier string) error {
	var computed string
	switch p.Method {
	case store.PKCEMethodPlain:
		computed = verifier
	case store.PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return ErrUnsupportedMethod
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(p.Challenge)) != 1 {
		return ErrMismatch
	}
	return nil
}

// Policy controls which challenge methods New accepts when creating a
// grant.
type Policy struct {
	AllowPlain bool
}

// Validate reports whether method is acceptable under p.
func (p Policy) Validate(method string) error {
	switch method {
	case store.PKCEMethodS256:
		return nil
	case store.PKCEMethodPlain:
		if p.AllowPlain {
			return nil
		}
		return ErrUnsupportedMethod
	default:
		return ErrUnsupportedMethod
	}
}
