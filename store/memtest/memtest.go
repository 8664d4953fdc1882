// Package memtest is an in-memory store.Storage double for tests: one
// mutex-guarded struct of maps standing in for a real connection pool.
//
// WithinTx snapshots every map before running the callback and restores the
// snapshot on error (or panic), which is enough to exercise the same
// rollback-on-error contract store.Storage promises without a real
// database. It does not emulate MVCC or actual row locking; GetGrantByCodeForUpdate
// and GetRefreshTokenForUpdate serialize by taking the store-wide lock for
// the remainder of the enclosing WithinTx, which is stricter than Postgres's
// per-row lock but observably equivalent for single-process tests.
package memtest

import (
	"context"
	"sync"
	"time"

	"github.com/matrix-auth/core/store"
)

type Storage struct {
	mu sync.Mutex

	nextID int64

	users           map[int64]store.User
	usersByUsername map[string]int64
	emails          map[int64]store.Email
	browserSessions map[int64]store.BrowserSession
	authentications map[int64][]store.Authentication

	clients  map[string]store.Client
	consents map[consentKey]store.ClientConsent

	grants map[int64]store.AuthorizationGrant

	oauthSessions map[int64]store.OAuthSession
	accessTokens  map[int64]store.AccessToken
	refreshTokens map[int64]store.RefreshToken

	inTx bool
}

type consentKey struct {
	userID   int64
	clientID string
}

var _ store.Storage = (*Storage)(nil)

// New returns an empty in-memory store.
func New() *Storage {
	return &Storage{
		users:            make(map[int64]store.User),
		usersByUsername:  make(map[string]int64),
		emails:           make(map[int64]store.Email),
		browserSessions:  make(map[int64]store.BrowserSession),
		authentications:  make(map[int64][]store.Authentication),
		clients:          make(map[string]store.Client),
		consents:         make(map[consentKey]store.ClientConsent),
		grants:           make(map[int64]store.AuthorizationGrant),
		oauthSessions:    make(map[int64]store.OAuthSession),
		accessTokens:     make(map[int64]store.AccessToken),
		refreshTokens:    make(map[int64]store.RefreshToken),
	}
}

func (s *Storage) Close() error { return nil }

func (s *Storage) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// snapshot is a deep-enough copy of every map for WithinTx's rollback.
type snapshot struct {
	nextID           int64
	users            map[int64]store.User
	usersByUsername  map[string]int64
	emails           map[int64]store.Email
	browserSessions  map[int64]store.BrowserSession
	authentications  map[int64][]store.Authentication
	clients          map[string]store.Client
	consents         map[consentKey]store.ClientConsent
	grants           map[int64]store.AuthorizationGrant
	oauthSessions    map[int64]store.OAuthSession
	accessTokens     map[int64]store.AccessToken
	refreshTokens    map[int64]store.RefreshToken
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Storage) snapshotLocked() snapshot {
	return snapshot{
		nextID:           s.nextID,
		users:            cloneMap(s.users),
		usersByUsername:  cloneMap(s.usersByUsername),
		emails:           cloneMap(s.emails),
		browserSessions:  cloneMap(s.browserSessions),
		authentications:  cloneMap(s.authentications),
		clients:          cloneMap(s.clients),
		consents:         cloneMap(s.consents),
		grants:           cloneMap(s.grants),
		oauthSessions:    cloneMap(s.oauthSessions),
		accessTokens:     cloneMap(s.accessTokens),
		refreshTokens:    cloneMap(s.refreshTokens),
	}
}

func (s *Storage) restoreLocked(snap snapshot) {
	s.nextID = snap.nextID
	s.users = snap.users
	s.usersByUsername = snap.usersByUsername
	s.emails = snap.emails
	s.browserSessions = snap.browserSessions
	s.authentications = snap.authentications
	s.clients = snap.clients
	s.consents = snap.consents
	s.grants = snap.grants
	s.oauthSessions = snap.oauthSessions
	s.accessTokens = snap.accessTokens
	s.refreshTokens = snap.refreshTokens
}

func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Storage) error) error {
	if s.inTx {
		// Nested call from within an already-locked transaction: reuse it.
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
	defer func() { s.inTx = false }()

	snap := s.snapshotLocked()
	defer func() {
		if p := recover(); p != nil {
			s.restoreLocked(snap)
			panic(p)
		}
	}()

	if err := fn(ctx, s); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

// tx runs f under the store-wide lock when not already inside a WithinTx
// call.
func (s *Storage) tx(f func()) {
	if s.inTx {
		f()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}

func (s *Storage) CreateUser(ctx context.Context, username string, passwordHash *string) (store.User, error) {
	var u store.User
	var err error
	s.tx(func() {
		if _, ok := s.usersByUsername[username]; ok {
			err = store.ErrAlreadyExists
			return
		}
		u = store.User{
			ID:           s.nextIDLocked(),
			Username:     username,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now(),
		}
		s.users[u.ID] = u
		s.usersByUsername[username] = u.ID
	})
	return u, err
}

func (s *Storage) GetUser(ctx context.Context, id int64) (store.User, error) {
	var u store.User
	var err error
	s.tx(func() {
		var ok bool
		u, ok = s.users[id]
		if !ok {
			err = store.ErrNotFound
		}
	})
	return u, err
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	var u store.User
	var err error
	s.tx(func() {
		id, ok := s.usersByUsername[username]
		if !ok {
			err = store.ErrNotFound
			return
		}
		u = s.users[id]
	})
	return u, err
}

func (s *Storage) CreateEmail(ctx context.Context, userID int64, address string) (store.Email, error) {
	var e store.Email
	var err error
	s.tx(func() {
		for _, existing := range s.emails {
			if existing.UserID == userID && existing.Address == address {
				err = store.ErrAlreadyExists
				return
			}
		}
		e = store.Email{ID: s.nextIDLocked(), UserID: userID, Address: address, CreatedAt: time.Now()}
		s.emails[e.ID] = e
	})
	return e, err
}

func (s *Storage) ConfirmEmail(ctx context.Context, emailID int64, now time.Time) error {
	var err error
	s.tx(func() {
		e, ok := s.emails[emailID]
		if !ok || e.ConfirmedAt != nil {
			err = store.ErrNotFound
			return
		}
		e.ConfirmedAt = &now
		s.emails[emailID] = e
	})
	return err
}

func (s *Storage) CreateBrowserSession(ctx context.Context, userID int64, now time.Time) (store.BrowserSession, error) {
	var sess store.BrowserSession
	s.tx(func() {
		sess = store.BrowserSession{ID: s.nextIDLocked(), UserID: userID, CreatedAt: now}
		s.browserSessions[sess.ID] = sess
	})
	return sess, nil
}

func (s *Storage) GetBrowserSession(ctx context.Context, id int64) (store.BrowserSession, error) {
	var sess store.BrowserSession
	var err error
	s.tx(func() {
		var ok bool
		sess, ok = s.browserSessions[id]
		if !ok {
			err = store.ErrNotFound
			return
		}
		auths := s.authentications[id]
		if len(auths) > 0 {
			last := auths[len(auths)-1]
			sess.LastAuthentication = &last
		}
	})
	return sess, err
}

func (s *Storage) AppendAuthentication(ctx context.Context, sessionID int64, now time.Time) (store.Authentication, error) {
	var a store.Authentication
	s.tx(func() {
		a = store.Authentication{ID: s.nextIDLocked(), CreatedAt: now}
		s.authentications[sessionID] = append(s.authentications[sessionID], a)
	})
	return a, nil
}

func (s *Storage) FinishBrowserSession(ctx context.Context, id int64, now time.Time) error {
	var err error
	s.tx(func() {
		sess, ok := s.browserSessions[id]
		if !ok || sess.FinishedAt != nil {
			err = store.ErrNotFound
			return
		}
		sess.FinishedAt = &now
		s.browserSessions[id] = sess
	})
	return err
}

func (s *Storage) CreateClient(ctx context.Context, c store.Client) error {
	var err error
	s.tx(func() {
		if _, ok := s.clients[c.ClientID]; ok {
			err = store.ErrAlreadyExists
			return
		}
		s.clients[c.ClientID] = c
	})
	return err
}

func (s *Storage) GetClient(ctx context.Context, clientID string) (store.Client, error) {
	var c store.Client
	var err error
	s.tx(func() {
		var ok bool
		c, ok = s.clients[clientID]
		if !ok {
			err = store.ErrNotFound
		}
	})
	return c, err
}

func (s *Storage) GetConsent(ctx context.Context, userID int64, clientID string) (store.ClientConsent, error) {
	var c store.ClientConsent
	var err error
	s.tx(func() {
		var ok bool
		c, ok = s.consents[consentKey{userID, clientID}]
		if !ok {
			err = store.ErrNotFound
		}
	})
	return c, err
}

func (s *Storage) UpsertConsent(ctx context.Context, userID int64, clientID string, scope []string) error {
	s.tx(func() {
		key := consentKey{userID, clientID}
		existing := s.consents[key]
		seen := make(map[string]struct{}, len(existing.GrantedScope)+len(scope))
		merged := make([]string, 0, len(existing.GrantedScope)+len(scope))
		for _, v := range existing.GrantedScope {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				merged = append(merged, v)
			}
		}
		for _, v := range scope {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				merged = append(merged, v)
			}
		}
		s.consents[key] = store.ClientConsent{UserID: userID, ClientID: clientID, GrantedScope: merged}
	})
	return nil
}

func (s *Storage) CreateGrant(ctx context.Context, g store.AuthorizationGrant) (store.AuthorizationGrant, error) {
	s.tx(func() {
		g.ID = s.nextIDLocked()
		s.grants[g.ID] = g
	})
	return g, nil
}

func (s *Storage) GetGrant(ctx context.Context, id int64) (store.AuthorizationGrant, error) {
	var g store.AuthorizationGrant
	var err error
	s.tx(func() {
		var ok bool
		g, ok = s.grants[id]
		if !ok {
			err = store.ErrNotFound
		}
	})
	return g, err
}

func (s *Storage) GetGrantByCodeForUpdate(ctx context.Context, code string) (store.AuthorizationGrant, error) {
	var g store.AuthorizationGrant
	var err error
	s.tx(func() {
		err = store.ErrNotFound
		for _, existing := range s.grants {
			if existing.Code != nil && *existing.Code == code {
				g, err = existing, nil
				return
			}
		}
	})
	return g, err
}

func (s *Storage) CancelGrant(ctx context.Context, id int64, now time.Time) error {
	var err error
	s.tx(func() {
		g, ok := s.grants[id]
		if !ok || g.CancelledAt != nil || g.FulfilledAt != nil {
			err = store.ErrNotFound
			return
		}
		g.CancelledAt = &now
		s.grants[id] = g
	})
	return err
}

func (s *Storage) FulfillGrant(ctx context.Context, id int64, sessionID int64, now time.Time) error {
	var err error
	s.tx(func() {
		g, ok := s.grants[id]
		if !ok || g.FulfilledAt != nil || g.CancelledAt != nil {
			err = store.ErrNotFound
			return
		}
		g.FulfilledAt = &now
		g.OAuth2SessionID = &sessionID
		s.grants[id] = g
	})
	return err
}

func (s *Storage) ExchangeGrant(ctx context.Context, id int64, now time.Time) error {
	var err error
	s.tx(func() {
		g, ok := s.grants[id]
		if !ok || g.FulfilledAt == nil || g.ExchangedAt != nil || g.CancelledAt != nil {
			err = store.ErrNotFound
			return
		}
		g.ExchangedAt = &now
		s.grants[id] = g
	})
	return err
}

func (s *Storage) CreateOAuthSession(ctx context.Context, sess store.OAuthSession) (store.OAuthSession, error) {
	s.tx(func() {
		sess.ID = s.nextIDLocked()
		s.oauthSessions[sess.ID] = sess
	})
	return sess, nil
}

func (s *Storage) GetOAuthSession(ctx context.Context, id int64) (store.OAuthSession, error) {
	var sess store.OAuthSession
	var err error
	s.tx(func() {
		var ok bool
		sess, ok = s.oauthSessions[id]
		if !ok {
			err = store.ErrNotFound
		}
	})
	return sess, err
}

func (s *Storage) FinishOAuthSession(ctx context.Context, id int64, now time.Time) error {
	var err error
	s.tx(func() {
		sess, ok := s.oauthSessions[id]
		if !ok || sess.FinishedAt != nil {
			err = store.ErrNotFound
			return
		}
		sess.FinishedAt = &now
		s.oauthSessions[id] = sess
	})
	return err
}

func (s *Storage) CreateAccessToken(ctx context.Context, t store.AccessToken) (store.AccessToken, error) {
	var err error
	s.tx(func() {
		for _, existing := range s.accessTokens {
			if existing.Token == t.Token {
				err = store.ErrAlreadyExists
				return
			}
		}
		t.ID = s.nextIDLocked()
		s.accessTokens[t.ID] = t
	})
	return t, err
}

func (s *Storage) CreateRefreshToken(ctx context.Context, t store.RefreshToken) (store.RefreshToken, error) {
	var err error
	s.tx(func() {
		for _, existing := range s.refreshTokens {
			if existing.Token == t.Token {
				err = store.ErrAlreadyExists
				return
			}
		}
		t.ID = s.nextIDLocked()
		s.refreshTokens[t.ID] = t
	})
	return t, err
}

func (s *Storage) GetActiveAccessToken(ctx context.Context, tokenStr string) (store.AccessToken, store.OAuthSession, error) {
	var t store.AccessToken
	var sess store.OAuthSession
	var err error
	s.tx(func() {
		err = store.ErrNotFound
		for _, existing := range s.accessTokens {
			if existing.Token == tokenStr {
				t = existing
				err = nil
				break
			}
		}
		if err != nil {
			return
		}
		sess, err = s.oauthSessions[t.OAuth2SessionID], nil
		if !t.Active(time.Now()) || !sess.Active() {
			err = store.ErrNotFound
		}
	})
	return t, sess, err
}

// GetRefreshToken is the lock-free counterpart to GetRefreshTokenForUpdate.
// This in-memory double has no separate lock to take, so both share the
// same lookup; the method exists to keep the interface's distinction
// between a locking and a non-locking read meaningful for callers.
func (s *Storage) GetRefreshToken(ctx context.Context, tokenStr string) (store.RefreshToken, store.OAuthSession, error) {
	return s.GetRefreshTokenForUpdate(ctx, tokenStr)
}

func (s *Storage) GetRefreshTokenForUpdate(ctx context.Context, tokenStr string) (store.RefreshToken, store.OAuthSession, error) {
	var t store.RefreshToken
	var sess store.OAuthSession
	var err error
	s.tx(func() {
		err = store.ErrNotFound
		for _, existing := range s.refreshTokens {
			if existing.Token == tokenStr {
				t = existing
				err = nil
				break
			}
		}
		if err != nil {
			return
		}
		sess = s.oauthSessions[t.OAuth2SessionID]
	})
	return t, sess, err
}

func (s *Storage) RevokeAccessToken(ctx context.Context, id int64, now time.Time) error {
	var err error
	s.tx(func() {
		t, ok := s.accessTokens[id]
		if !ok || t.RevokedAt != nil {
			err = store.ErrNotFound
			return
		}
		t.RevokedAt = &now
		s.accessTokens[id] = t
	})
	return err
}

func (s *Storage) ConsumeRefreshToken(ctx context.Context, id int64, now time.Time, nextID int64) error {
	var err error
	s.tx(func() {
		t, ok := s.refreshTokens[id]
		if !ok || t.ConsumedAt != nil {
			err = store.ErrNotFound
			return
		}
		t.ConsumedAt = &now
		t.NextRefreshTokenID = &nextID
		s.refreshTokens[id] = t
	})
	return err
}

func (s *Storage) RevokeSessionTokens(ctx context.Context, sessionID int64, now time.Time) error {
	s.tx(func() {
		for id, t := range s.accessTokens {
			if t.OAuth2SessionID == sessionID && t.RevokedAt == nil {
				t.RevokedAt = &now
				s.accessTokens[id] = t
			}
		}
		for id, t := range s.refreshTokens {
			if t.OAuth2SessionID == sessionID && t.ConsumedAt == nil {
				t.ConsumedAt = &now
				s.refreshTokens[id] = t
			}
		}
	})
	return nil
}

func (s *Storage) GarbageCollect(ctx context.Context, now time.Time, grantTTL, refreshTokenTTL time.Duration) (store.GCResult, error) {
	var result store.GCResult
	s.tx(func() {
		for id, g := range s.grants {
			if g.FulfilledAt == nil && g.CancelledAt == nil && now.After(g.CreatedAt.Add(grantTTL)) {
				delete(s.grants, id)
				result.CancelledGrants++
			}
		}
		for id, t := range s.refreshTokens {
			if t.ConsumedAt != nil && now.After(t.ConsumedAt.Add(refreshTokenTTL)) {
				delete(s.refreshTokens, id)
				result.PurgedRefreshTokens++
			}
		}
	})
	return result, nil
}
