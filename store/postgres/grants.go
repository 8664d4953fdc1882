package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/matrix-auth/core/store"
)

const grantColumns = `
	id, created_at, client_id, redirect_uri, scope, state, nonce, max_age,
	acr_values, response_mode, response_type_code, response_type_token,
	response_type_id_token, code, pkce_challenge, pkce_method,
	requires_consent, oauth2_session_id, fulfilled_at, exchanged_at, cancelled_at
`

func (s *storage) CreateGrant(ctx context.Context, g store.AuthorizationGrant) (store.AuthorizationGrant, error) {
	var pkceChallenge, pkceMethod *string
	if g.PKCE != nil {
		pkceChallenge, pkceMethod = &g.PKCE.Challenge, &g.PKCE.Method
	}

	err := s.q.QueryRowContext(ctx, `
		insert into authorization_grants (
			created_at, client_id, redirect_uri, scope, state, nonce, max_age,
			acr_values, response_mode, response_type_code, response_type_token,
			response_type_id_token, code, pkce_challenge, pkce_method,
			requires_consent
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		returning id
	`,
		g.CreatedAt, g.ClientID, g.RedirectURI, encoder(g.Scope), nullString(g.State), nullString(g.Nonce),
		nullInt(g.MaxAge), nullString(g.ACRValues), string(g.ResponseMode), g.ResponseTypeCode,
		g.ResponseTypeToken, g.ResponseTypeIDToken, nullString(g.Code), nullString(pkceChallenge),
		nullString(pkceMethod), g.RequiresConsent,
	).Scan(&g.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.AuthorizationGrant{}, store.ErrAlreadyExists
		}
		return store.AuthorizationGrant{}, fmt.Errorf("insert grant: %w", err)
	}
	return g, nil
}

func (s *storage) GetGrant(ctx context.Context, id int64) (store.AuthorizationGrant, error) {
	return s.scanGrant(s.q.QueryRowContext(ctx, `select `+grantColumns+` from authorization_grants where id = $1`, id))
}

// GetGrantByCodeForUpdate takes a row lock on the grant so that two
// concurrent redemptions of the same authorization code serialize: the
// second caller blocks until the first's transaction commits or rolls back,
// then observes the already-exchanged row instead of racing it.
func (s *storage) GetGrantByCodeForUpdate(ctx context.Context, code string) (store.AuthorizationGrant, error) {
	return s.scanGrant(s.q.QueryRowContext(ctx, `
		select `+grantColumns+` from authorization_grants where code = $1 for update
	`, code))
}

func (s *storage) scanGrant(row rowScanner) (store.AuthorizationGrant, error) {
	var g store.AuthorizationGrant
	var responseMode string
	var pkceChallenge, pkceMethod *string

	err := row.Scan(
		&g.ID, &g.CreatedAt, &g.ClientID, &g.RedirectURI, decoder(&g.Scope),
		scanNullString(&g.State), scanNullString(&g.Nonce), scanNullInt(&g.MaxAge),
		scanNullString(&g.ACRValues), &responseMode, &g.ResponseTypeCode, &g.ResponseTypeToken,
		&g.ResponseTypeIDToken, scanNullString(&g.Code), scanNullString(&pkceChallenge),
		scanNullString(&pkceMethod), &g.RequiresConsent, scanNullInt64(&g.OAuth2SessionID),
		scanNullTime(&g.FulfilledAt), scanNullTime(&g.ExchangedAt), scanNullTime(&g.CancelledAt),
	)
	if err != nil {
		if noRows(err) {
			return store.AuthorizationGrant{}, store.ErrNotFound
		}
		return store.AuthorizationGrant{}, fmt.Errorf("scan grant: %w", err)
	}
	g.ResponseMode = store.ResponseMode(responseMode)
	if pkceChallenge != nil && pkceMethod != nil {
		g.PKCE = &store.PKCE{Challenge: *pkceChallenge, Method: *pkceMethod}
	}
	return g, nil
}

func (s *storage) CancelGrant(ctx context.Context, id int64, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update authorization_grants set cancelled_at = $1
		where id = $2 and cancelled_at is null and fulfilled_at is null
	`, now, id)
	if err != nil {
		return fmt.Errorf("cancel grant: %w", err)
	}
	return requireRowAffected(res)
}

func (s *storage) FulfillGrant(ctx context.Context, id int64, sessionID int64, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update authorization_grants set fulfilled_at = $1, oauth2_session_id = $2
		where id = $3 and fulfilled_at is null and cancelled_at is null
	`, now, sessionID, id)
	if err != nil {
		return fmt.Errorf("fulfill grant: %w", err)
	}
	return requireRowAffected(res)
}

func (s *storage) ExchangeGrant(ctx context.Context, id int64, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update authorization_grants set exchanged_at = $1
		where id = $2 and fulfilled_at is not null and exchanged_at is null and cancelled_at is null
	`, now, id)
	if err != nil {
		return fmt.Errorf("exchange grant: %w", err)
	}
	return requireRowAffected(res)
}
