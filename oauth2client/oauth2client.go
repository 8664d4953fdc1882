// Package oauth2client implements the registered-client registry and
// per-user consent store.
package oauth2client

import (
	"context"
	"errors"

	"github.com/matrix-auth/core/pkg/netutil"
	"github.com/matrix-auth/core/store"
)

// ErrRedirectURIRequired is returned by ResolveRedirectURI when the request
// omits redirect_uri and the client has more than one registered URI.
var ErrRedirectURIRequired = errors.New("oauth2client: redirect_uri is required")

// ErrRedirectURIMismatch is returned when the requested redirect_uri
// doesn't match any of the client's registered URIs.
var ErrRedirectURIMismatch = errors.New("oauth2client: redirect_uri does not match a registered URI")

// Service implements client lookup, redirect_uri resolution, and consent
// bookkeeping against a store.Storage.
type Service struct {
	storage store.Storage
}

// New builds a Service.
func New(s store.Storage) *Service { return &Service{storage: s} }

// LookupClient returns the registered client, or store.ErrNotFound.
func (svc *Service) LookupClient(ctx context.Context, clientID string) (store.Client, error) {
	return svc.storage.GetClient(ctx, clientID)
}

// ResolveRedirectURI resolves the redirect_uri to use for a request: if
// requested is empty and the client has exactly one registered redirect
// URI, that URI is returned;
// otherwise requested must be non-empty and match a registered URI exactly,
// after normalization (lowercase scheme/host, default port stripped, path
// and query preserved).
func (svc *Service) ResolveRedirectURI(client store.Client, requested string) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", ErrRedirectURIRequired
	}

	for _, registered := range client.RedirectURIs {
		if netutil.URLEqual(requested, registered) {
			return registered, nil
		}
	}
	return "", ErrRedirectURIMismatch
}

// FetchConsent returns the scope set the user has previously granted the
// client, or an empty ClientConsent if none exists yet.
func (svc *Service) FetchConsent(ctx context.Context, userID int64, clientID string) (store.ClientConsent, error) {
	consent, err := svc.storage.GetConsent(ctx, userID, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ClientConsent{UserID: userID, ClientID: clientID}, nil
	}
	return consent, err
}

// RecordConsent unions scope into whatever the user had already granted the
// client.
func (svc *Service) RecordConsent(ctx context.Context, userID int64, clientID string, scope []string) error {
	return svc.storage.UpsertConsent(ctx, userID, clientID, scope)
}

// LacksConsent reports whether any requested scope value is absent from the
// granted set.
func LacksConsent(requested, granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		grantedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := grantedSet[s]; !ok {
			return true
		}
	}
	return false
}
