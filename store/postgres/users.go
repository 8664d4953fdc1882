package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/matrix-auth/core/store"
)

func (s *storage) CreateUser(ctx context.Context, username string, passwordHash *string) (store.User, error) {
	var u store.User
	err := s.q.QueryRowContext(ctx, `
		insert into users (username, password_hash)
		values ($1, $2)
		returning id, username, password_hash, created_at
	`, username, nullString(passwordHash)).Scan(&u.ID, &u.Username, scanNullString(&u.PasswordHash), &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.User{}, store.ErrAlreadyExists
		}
		return store.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *storage) GetUser(ctx context.Context, id int64) (store.User, error) {
	return s.scanUser(s.q.QueryRowContext(ctx, `
		select id, username, password_hash, created_at from users where id = $1
	`, id))
}

func (s *storage) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	return s.scanUser(s.q.QueryRowContext(ctx, `
		select id, username, password_hash, created_at from users where username = $1
	`, username))
}

func (s *storage) scanUser(row rowScanner) (store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Username, scanNullString(&u.PasswordHash), &u.CreatedAt); err != nil {
		if noRows(err) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (s *storage) CreateEmail(ctx context.Context, userID int64, address string) (store.Email, error) {
	var e store.Email
	err := s.q.QueryRowContext(ctx, `
		insert into emails (user_id, address)
		values ($1, $2)
		returning id, user_id, address, created_at, confirmed_at
	`, userID, address).Scan(&e.ID, &e.UserID, &e.Address, &e.CreatedAt, scanNullTime(&e.ConfirmedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.Email{}, store.ErrAlreadyExists
		}
		return store.Email{}, fmt.Errorf("insert email: %w", err)
	}
	return e, nil
}

func (s *storage) ConfirmEmail(ctx context.Context, emailID int64, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update emails set confirmed_at = $1 where id = $2 and confirmed_at is null
	`, now, emailID)
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	return requireRowAffected(res)
}

func (s *storage) CreateBrowserSession(ctx context.Context, userID int64, now time.Time) (store.BrowserSession, error) {
	var sess store.BrowserSession
	err := s.q.QueryRowContext(ctx, `
		insert into browser_sessions (user_id, created_at)
		values ($1, $2)
		returning id, user_id, created_at
	`, userID, now).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt)
	if err != nil {
		return store.BrowserSession{}, fmt.Errorf("insert browser session: %w", err)
	}
	return sess, nil
}

func (s *storage) GetBrowserSession(ctx context.Context, id int64) (store.BrowserSession, error) {
	var sess store.BrowserSession
	var lastAuthID *int64
	var lastAuthCreatedAt *time.Time

	err := s.q.QueryRowContext(ctx, `
		select
			bs.id, bs.user_id, bs.created_at, bs.finished_at,
			la.id, la.created_at
		from browser_sessions bs
		left join lateral (
			select id, created_at from session_authentications
			where session_id = bs.id
			order by created_at desc
			limit 1
		) la on true
		where bs.id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, scanNullTime(&sess.FinishedAt), scanNullInt64(&lastAuthID), scanNullTime(&lastAuthCreatedAt))
	if err != nil {
		if noRows(err) {
			return store.BrowserSession{}, store.ErrNotFound
		}
		return store.BrowserSession{}, fmt.Errorf("select browser session: %w", err)
	}
	if lastAuthID != nil {
		sess.LastAuthentication = &store.Authentication{ID: *lastAuthID, CreatedAt: *lastAuthCreatedAt}
	}
	return sess, nil
}

func (s *storage) AppendAuthentication(ctx context.Context, sessionID int64, now time.Time) (store.Authentication, error) {
	var a store.Authentication
	err := s.q.QueryRowContext(ctx, `
		insert into session_authentications (session_id, created_at)
		values ($1, $2)
		returning id, created_at
	`, sessionID, now).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return store.Authentication{}, fmt.Errorf("insert authentication: %w", err)
	}
	return a, nil
}

func (s *storage) FinishBrowserSession(ctx context.Context, id int64, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update browser_sessions set finished_at = $1 where id = $2 and finished_at is null
	`, now, id)
	if err != nil {
		return fmt.Errorf("finish browser session: %w", err)
	}
	return requireRowAffected(res)
}
