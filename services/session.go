package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmfrees/warden/core"
	"github.com/jmfrees/warden/pkg/crypto"
)

const sessionKeyPrefix = "session:"

// sessionRecord is the stored shape of a session. It carries the
// MFA-verified flag of the original login so a refresh can restore the
// claim without trusting client input.
type sessionRecord struct {
	Session     core.Session `json:"session"`
	Token       string       `json:"token"`
	MFAVerified bool         `json:"mfaVerified"`
}

// CreateOptions describe the request a session originates from.
type CreateOptions struct {
	IPAddress   string
	UserAgent   string
	MFAVerified bool
}

// CreateResult is the session with its first token pair.
type CreateResult struct {
	Session      *core.Session `json:"session"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

// ValidationResult is the structured outcome of Validate. Err holds the
// verdict for invalid sessions; infrastructure failures are returned
// separately by Validate itself.
type ValidationResult struct {
	Valid   bool
	Session *core.Session
	Err     error
}

// SessionManager orchestrates session creation, validation, refresh and
// invalidation against the KV store, using the token codec for the
// identity coupling. It is the sole writer of session records.
type SessionManager struct {
	config core.SessionConfig
	store  core.KV
	codec  *TokenCodec
	nanoid *crypto.NanoID
	logger *slog.Logger
}

func NewSessionManager(config core.SessionConfig, store core.KV, codec *TokenCodec, logger *slog.Logger) *SessionManager {
	if config.MaxAge <= 0 {
		config = core.DefaultSessionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	nanoid, _ := crypto.NewNanoID("")
	return &SessionManager{
		config: config,
		store:  store,
		codec:  codec,
		nanoid: nanoid,
		logger: logger,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Create starts a new session lineage for the user and issues its first
// access/refresh token pair. The record is stored with a TTL matching
// the session's absolute lifetime.
func (m *SessionManager) Create(ctx context.Context, user *core.User, opts CreateOptions) (*CreateResult, error) {
	id, err := m.nanoid.Generate(0)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	accessToken, err := m.codec.IssueAccessToken(user, id, opts.MFAVerified)
	if err != nil {
		return nil, err
	}
	refreshToken, err := m.codec.IssueRefreshToken(user, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := core.Session{
		ID:             id,
		UserID:         user.ID,
		Token:          accessToken,
		IPAddress:      opts.IPAddress,
		UserAgent:      opts.UserAgent,
		Active:         true,
		ExpiresAt:      now.Add(m.config.MaxAge),
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	record := sessionRecord{Session: session, Token: accessToken, MFAVerified: opts.MFAVerified}
	if err := m.put(ctx, &record, m.config.MaxAge); err != nil {
		return nil, err
	}

	return &CreateResult{
		Session:      &session,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Validate verifies the token, loads its session and applies the
// session invariants. Invalid-session verdicts come back inside the
// result; the returned error is reserved for store failures, which must
// never be conflated with "no session".
func (m *SessionManager) Validate(ctx context.Context, token string) (*ValidationResult, error) {
	claims, err := m.codec.VerifyAccessToken(token)
	if err != nil {
		// Fail closed on any codec error.
		return &ValidationResult{Err: core.ErrInvalidToken}, nil
	}

	record, err := m.get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return &ValidationResult{Err: core.ErrSessionNotFound}, nil
		}
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}

	session := record.Session
	if !session.Active {
		return &ValidationResult{Err: core.ErrSessionInactive}, nil
	}
	if time.Now().After(session.ExpiresAt) {
		return &ValidationResult{Err: core.ErrSessionExpired}, nil
	}

	// Touch lastAccessedAt. Best-effort: a failed write-back must not
	// fail the validation that triggered it.
	record.Session.LastAccessedAt = time.Now()
	if err := m.put(ctx, record, time.Until(session.ExpiresAt)); err != nil {
		m.logger.Warn("session touch failed", "session_id", session.ID, "error", err)
	}

	session = record.Session
	return &ValidationResult{Valid: true, Session: &session}, nil
}

// Refresh rotates the token pair for an existing session. The session
// keeps its id and its original expiry; refresh never extends the
// absolute lifetime.
func (m *SessionManager) Refresh(ctx context.Context, sessionID string, user *core.User) (*core.RefreshResult, error) {
	record, err := m.get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	if !record.Session.Active {
		return nil, core.ErrSessionInactive
	}

	remaining := time.Until(record.Session.ExpiresAt)
	if remaining <= 0 {
		return nil, core.ErrSessionExpired
	}

	accessToken, err := m.codec.IssueAccessToken(user, sessionID, record.MFAVerified)
	if err != nil {
		return nil, err
	}
	refreshToken, err := m.codec.IssueRefreshToken(user, sessionID)
	if err != nil {
		return nil, err
	}

	record.Token = accessToken
	record.Session.Token = accessToken
	record.Session.LastAccessedAt = time.Now()
	if err := m.put(ctx, record, remaining); err != nil {
		return nil, err
	}

	session := record.Session
	return &core.RefreshResult{
		Session:      &session,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Invalidate deletes a session, reporting whether it existed. A
// terminated session is not revivable; a new login creates a new id.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID string) (bool, error) {
	existed, err := m.store.Delete(ctx, sessionKey(sessionID))
	if err != nil {
		return false, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return existed, nil
}

// InvalidateAllForUser deletes every session owned by the user and
// returns the count. "Sign out everywhere."
//
// This scans the whole session keyspace; a store with a user index can
// do better, but correctness does not depend on it. A session created
// concurrently can be missed, which is harmless: it is not the caller's
// target.
func (m *SessionManager) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	count := 0
	err := m.scan(ctx, func(record *sessionRecord) bool {
		return record.Session.UserID == userID
	}, &count)
	if err != nil {
		return count, err
	}
	if count > 0 {
		m.logger.Info("invalidated user sessions", "user_id", userID, "count", count)
	}
	return count, nil
}

// SweepExpired deletes sessions past their expiry. Intended for a
// periodic schedule, not per-request; stores with native TTL expiry
// make this mostly a no-op.
func (m *SessionManager) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()
	count := 0
	err := m.scan(ctx, func(record *sessionRecord) bool {
		return now.After(record.Session.ExpiresAt)
	}, &count)
	if err != nil {
		return count, err
	}
	if count > 0 {
		m.logger.Info("swept expired sessions", "count", count)
	}
	return count, nil
}

// StartSweeper runs SweepExpired on the given interval until ctx is
// cancelled.
func (m *SessionManager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.SweepExpired(ctx); err != nil {
					m.logger.Warn("session sweep failed", "error", err)
				}
			}
		}
	}()
}

func (m *SessionManager) scan(ctx context.Context, match func(*sessionRecord) bool, count *int) error {
	keys, err := m.store.Keys(ctx, sessionKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}

	for _, key := range keys {
		raw, err := m.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, core.ErrKeyNotFound) {
				continue // deleted or lapsed between scan and read
			}
			return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
		}

		var record sessionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			m.logger.Warn("dropping undecodable session record", "key", key, "error", err)
			_, _ = m.store.Delete(ctx, key)
			continue
		}

		if match(&record) {
			existed, err := m.store.Delete(ctx, key)
			if err != nil {
				return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
			}
			if existed {
				*count++
			}
		}
	}
	return nil
}

func (m *SessionManager) get(ctx context.Context, sessionID string) (*sessionRecord, error) {
	raw, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		// An unreadable record is as good as no record.
		return nil, core.ErrKeyNotFound
	}
	// Token is excluded from the Session's own JSON; restore it from
	// the record envelope.
	record.Session.Token = record.Token
	return &record, nil
}

func (m *SessionManager) put(ctx context.Context, record *sessionRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Set(ctx, sessionKey(record.Session.ID), string(raw), ttl); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}
