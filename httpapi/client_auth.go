package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/matrix-auth/core/identity"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/store"
)

// authenticateClient resolves and authenticates the client making a token
// or introspection request: HTTP Basic auth takes priority over
// client_id/client_secret form fields, matching how browsers and most
// OAuth2 client libraries send credentials. A client registered with
// token_endpoint_auth_method "none" is resolved but never secret-checked —
// callers that require a confidential client must check client.Public()
// themselves.
func authenticateClient(r *http.Request, clients *oauth2client.Service, hasher *identity.Hasher) (store.Client, *RouteError) {
	ctx := r.Context()

	clientID, clientSecret, ok := r.BasicAuth()
	if ok {
		var err error
		if clientID, err = url.QueryUnescape(clientID); err != nil {
			return store.Client{}, jsonError(http.StatusBadRequest, ErrInvalidRequest, "client_id improperly encoded")
		}
		if clientSecret, err = url.QueryUnescape(clientSecret); err != nil {
			return store.Client{}, jsonError(http.StatusBadRequest, ErrInvalidRequest, "client_secret improperly encoded")
		}
	} else {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}

	if clientID == "" {
		return store.Client{}, jsonError(http.StatusBadRequest, ErrInvalidRequest, "client_id is required")
	}

	client, err := clients.LookupClient(ctx, clientID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Client{}, jsonError(http.StatusUnauthorized, ErrInvalidClient, "invalid client credentials")
		}
		return store.Client{}, jsonError(http.StatusInternalServerError, ErrServerError, "")
	}

	if client.Public() {
		return client, nil
	}

	if client.ClientSecretHash == nil {
		return store.Client{}, jsonError(http.StatusUnauthorized, ErrInvalidClient, "invalid client credentials")
	}

	ok, verifyErr := hasher.Verify(clientSecret, *client.ClientSecretHash)
	if verifyErr != nil || !ok {
		return store.Client{}, jsonError(http.StatusUnauthorized, ErrInvalidClient, "invalid client credentials")
	}

	return client, nil
}

// lookupClientUnauthenticated resolves a client by ID without checking a
// secret, for request-time lookups that only need the client's registered
// metadata. The authorization endpoint calls Clients.LookupClient directly.
func lookupClientUnauthenticated(ctx context.Context, clients *oauth2client.Service, clientID string) (store.Client, error) {
	return clients.LookupClient(ctx, clientID)
}
