package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-jose/go-jose/v4"
)

// staticOracle is a single-key signing.Oracle: it generates one RSA-2048
// key at process start and signs every ID token with it for the life of
// the process. The teacher rotates keys on a timer against its storage
// backend (server/rotation.go); this module declares signing.Oracle as an
// interface precisely so a deployment can swap in that kind of rotating,
// storage-backed key store without authd itself depending on it. This is
// the stand-in that makes `authd serve` runnable out of the box.
type staticOracle struct {
	keyID string
	key   *rsa.PrivateKey
	jwks  jose.JSONWebKeySet
}

func newStaticOracle() (*staticOracle, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	id := make([]byte, 20)
	if _, err := io.ReadFull(rand.Reader, id); err != nil {
		return nil, fmt.Errorf("generate key id: %w", err)
	}
	keyID := hex.EncodeToString(id)

	pub := jose.JSONWebKey{
		Key:       key.Public(),
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}

	return &staticOracle{
		keyID: keyID,
		key:   key,
		jwks:  jose.JSONWebKeySet{Keys: []jose.JSONWebKey{pub}},
	}, nil
}

func (o *staticOracle) Sign(claims any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       o.key,
	}, &jose.SignerOptions{ExtraHeaders: map[jose.HeaderKey]any{"kid": o.keyID}})
	if err != nil {
		return "", fmt.Errorf("build signer: %w", err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign claims: %w", err)
	}

	return jws.CompactSerialize()
}

func (o *staticOracle) JWKS() jose.JSONWebKeySet {
	return o.jwks
}
