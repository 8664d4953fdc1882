package postgres

import (
	"context"
	"fmt"

	"github.com/matrix-auth/core/store"
)

func (s *storage) CreateClient(ctx context.Context, c store.Client) error {
	_, err := s.q.ExecContext(ctx, `
		insert into clients (
			client_id, redirect_uris, response_types, grant_types,
			token_endpoint_auth_method, client_secret_hash, jwks
		) values ($1, $2, $3, $4, $5, $6, $7)
	`,
		c.ClientID, encoder(c.RedirectURIs), encoder(c.ResponseTypes), encoder(c.GrantTypes),
		c.TokenEndpointAuthMethod, nullString(c.ClientSecretHash), nullString(c.JWKS),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *storage) GetClient(ctx context.Context, clientID string) (store.Client, error) {
	var c store.Client
	err := s.q.QueryRowContext(ctx, `
		select
			client_id, redirect_uris, response_types, grant_types,
			token_endpoint_auth_method, client_secret_hash, jwks
		from clients where client_id = $1
	`, clientID).Scan(
		&c.ClientID, decoder(&c.RedirectURIs), decoder(&c.ResponseTypes), decoder(&c.GrantTypes),
		&c.TokenEndpointAuthMethod, scanNullString(&c.ClientSecretHash), scanNullString(&c.JWKS),
	)
	if err != nil {
		if noRows(err) {
			return store.Client{}, store.ErrNotFound
		}
		return store.Client{}, fmt.Errorf("select client: %w", err)
	}
	return c, nil
}

func (s *storage) GetConsent(ctx context.Context, userID int64, clientID string) (store.ClientConsent, error) {
	c := store.ClientConsent{UserID: userID, ClientID: clientID}
	err := s.q.QueryRowContext(ctx, `
		select granted_scope from client_consents where user_id = $1 and client_id = $2
	`, userID, clientID).Scan(decoder(&c.GrantedScope))
	if err != nil {
		if noRows(err) {
			return store.ClientConsent{}, store.ErrNotFound
		}
		return store.ClientConsent{}, fmt.Errorf("select consent: %w", err)
	}
	return c, nil
}

// UpsertConsent unions the newly granted scope into whatever was previously
// recorded: consent only ever grows until a caller explicitly revokes it, so
// a user re-authorizing with a subset of scope never loses previously
// granted permissions.
func (s *storage) UpsertConsent(ctx context.Context, userID int64, clientID string, scope []string) error {
	existing, err := s.GetConsent(ctx, userID, clientID)
	if err != nil && err != store.ErrNotFound {
		return err
	}

	merged := mergeScope(existing.GrantedScope, scope)

	_, err = s.q.ExecContext(ctx, `
		insert into client_consents (user_id, client_id, granted_scope)
		values ($1, $2, $3)
		on conflict (user_id, client_id) do update set granted_scope = excluded.granted_scope
	`, userID, clientID, encoder(merged))
	if err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

func mergeScope(existing, additional []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(additional))
	merged := make([]string, 0, len(existing)+len(additional))
	for _, s := range existing {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			merged = append(merged, s)
		}
	}
	for _, s := range additional {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			merged = append(merged, s)
		}
	}
	return merged
}
