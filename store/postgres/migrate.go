package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations is applied in order, exactly once each, tracked by the
// migrations table.
var migrations = []string{
	`create table users (
		id bigserial primary key,
		username text not null unique,
		password_hash text,
		created_at timestamptz not null
	)`,
	`create table emails (
		id bigserial primary key,
		user_id bigint not null references users(id),
		address text not null,
		created_at timestamptz not null,
		confirmed_at timestamptz,
		unique (user_id, address)
	)`,
	`create table browser_sessions (
		id bigserial primary key,
		user_id bigint not null references users(id),
		created_at timestamptz not null,
		finished_at timestamptz
	)`,
	`create table session_authentications (
		id bigserial primary key,
		session_id bigint not null references browser_sessions(id),
		created_at timestamptz not null
	)`,
	`create table clients (
		client_id text primary key,
		redirect_uris jsonb not null,
		response_types jsonb not null,
		grant_types jsonb not null,
		token_endpoint_auth_method text not null,
		client_secret_hash text,
		jwks text
	)`,
	`create table client_consents (
		user_id bigint not null references users(id),
		client_id text not null references clients(client_id),
		granted_scope jsonb not null,
		primary key (user_id, client_id)
	)`,
	`create table authorization_grants (
		id bigserial primary key,
		created_at timestamptz not null,
		client_id text not null references clients(client_id),
		redirect_uri text not null,
		scope jsonb not null,
		state text,
		nonce text,
		max_age integer,
		acr_values text,
		response_mode text not null,
		response_type_code boolean not null,
		response_type_token boolean not null,
		response_type_id_token boolean not null,
		code text unique,
		pkce_challenge text,
		pkce_method text,
		requires_consent boolean not null,
		oauth2_session_id bigint,
		fulfilled_at timestamptz,
		exchanged_at timestamptz,
		cancelled_at timestamptz
	)`,
	`create table oauth2_sessions (
		id bigserial primary key,
		browser_session_id bigint not null references browser_sessions(id),
		client_id text not null references clients(client_id),
		scope jsonb not null,
		created_at timestamptz not null,
		finished_at timestamptz
	)`,
	`alter table authorization_grants
		add constraint authorization_grants_oauth2_session_id_fkey
		foreign key (oauth2_session_id) references oauth2_sessions(id)`,
	`create table access_tokens (
		id bigserial primary key,
		oauth2_session_id bigint not null references oauth2_sessions(id),
		token text not null unique,
		created_at timestamptz not null,
		expires_after_seconds bigint not null,
		revoked_at timestamptz
	)`,
	`create table refresh_tokens (
		id bigserial primary key,
		oauth2_session_id bigint not null references oauth2_sessions(id),
		access_token_id bigint not null references access_tokens(id),
		token text not null unique,
		created_at timestamptz not null,
		consumed_at timestamptz,
		next_refresh_token_id bigint references refresh_tokens(id)
	)`,
	`create index authorization_grants_created_at_idx on authorization_grants (created_at)
		where fulfilled_at is null and cancelled_at is null`,
	`create index refresh_tokens_consumed_at_idx on refresh_tokens (consumed_at)
		where consumed_at is not null`,
}

// Migrate brings the database up to the latest schema version, applying any
// migration not yet recorded in the migrations table. Safe to call on every
// startup: a fully migrated database is a no-op.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		create table if not exists migrations (
			num integer not null,
			applied_at timestamptz not null default now()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for {
		done, err := applyNextMigration(ctx, db)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func applyNextMigration(ctx context.Context, db *sql.DB) (done bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var applied sql.NullInt64
	if err = tx.QueryRowContext(ctx, `select max(num) from migrations`).Scan(&applied); err != nil {
		return false, fmt.Errorf("select max migration: %w", err)
	}
	next := 0
	if applied.Valid {
		next = int(applied.Int64) + 1
	}
	if next >= len(migrations) {
		return true, tx.Commit()
	}

	if _, err = tx.ExecContext(ctx, migrations[next]); err != nil {
		return false, fmt.Errorf("apply migration %d: %w", next, err)
	}
	if _, err = tx.ExecContext(ctx, `insert into migrations (num) values ($1)`, next); err != nil {
		return false, fmt.Errorf("record migration %d: %w", next, err)
	}
	return false, tx.Commit()
}
