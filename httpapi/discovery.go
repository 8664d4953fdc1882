package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/matrix-auth/core/signing"
)

// discoveryDocument is the OpenID Connect Discovery 1.0 provider metadata
// document.
type discoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	ResponseModesSupported        []string `json:"response_modes_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	SubjectTypesSupported         []string `json:"subject_types_supported"`
	IDTokenSigningAlgValues       []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// DiscoveryHandler serves the OpenID Connect Discovery document at
// /.well-known/openid-configuration, built from a fixed issuer and the
// endpoint paths this package registers — there's no dynamic capability
// negotiation to perform.
type DiscoveryHandler struct {
	Issuer string
}

func (h *DiscoveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	doc := discoveryDocument{
		Issuer:                 h.Issuer,
		AuthorizationEndpoint:  h.Issuer + "/authorize",
		TokenEndpoint:          h.Issuer + "/token",
		IntrospectionEndpoint:  h.Issuer + "/introspect",
		JWKSURI:                h.Issuer + "/jwks.json",
		ResponseTypesSupported: []string{"code", "token", "id_token"},
		ResponseModesSupported: []string{"query", "fragment", "form_post"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:  []string{"public"},
		IDTokenSigningAlgValues: []string{"RS256"},
		ScopesSupported:        []string{"openid", "profile", "email"},
		TokenEndpointAuthMethods: []string{
			"client_secret_basic", "client_secret_post", "none",
		},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// JWKSHandler serves the signing key set's public half, delegating
// entirely to the signing.Oracle collaborator — this package owns no key
// material of its own.
type JWKSHandler struct {
	Oracle signing.Oracle
}

func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Oracle == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	body, err := json.MarshalIndent(h.Oracle.JWKS(), "", "  ")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "max-age=120, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
