// Package signing declares the JOSE signing-key collaborator as an
// interface. Besides test doubles, the only implementation in this
// repository is cmd/authd's staticOracle, a single key generated at process
// start with no rotation.
package signing

import "github.com/go-jose/go-jose/v4"

// Oracle signs ID tokens and serves the public half of the active signing
// keys as a JWKS.
type Oracle interface {
	// Sign returns a compact JWS over claims, serialized as JSON by the
	// caller before signing.
	Sign(claims any) (string, error)
	// JWKS returns the public keys resource clients use to verify tokens
	// this Oracle signs.
	JWKS() jose.JSONWebKeySet
}
