package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmfrees/warden/core"
)

func newTestSessionManager(store core.KV, maxAge time.Duration) *SessionManager {
	codec := NewTokenCodec(testSecret, core.TokenConfig{})
	return NewSessionManager(core.SessionConfig{MaxAge: maxAge}, store, codec, nil)
}

// Requirement: Create issues a session with a token pair and a fixed
// expiry, and the stored record round-trips through Validate.
func TestSessionManager_CreateAndValidate(t *testing.T) {
	store := NewFakeKV()
	manager := newTestSessionManager(store, time.Hour)
	user := testUser()

	result, err := manager.Create(context.Background(), user, CreateOptions{
		IPAddress: "192.168.1.1",
		UserAgent: "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if result.Session.ID == "" {
		t.Fatal("Session.ID is empty")
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("token pair incomplete")
	}
	if result.Session.UserID != user.ID {
		t.Errorf("Session.UserID = %q, want %q", result.Session.UserID, user.ID)
	}

	validation, err := manager.Validate(context.Background(), result.AccessToken)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !validation.Valid {
		t.Fatalf("Validate() verdict = %v, want valid", validation.Err)
	}
	if validation.Session.ID != result.Session.ID {
		t.Errorf("Session.ID = %q, want %q", validation.Session.ID, result.Session.ID)
	}
}

// Requirement: the access token must never appear in the session's own
// JSON representation.
func TestSession_TokenNotExposedInJSON(t *testing.T) {
	store := NewFakeKV()
	manager := newTestSessionManager(store, time.Hour)

	result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	raw, err := json.Marshal(result.Session)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"token", "Token"} {
		if _, exists := fields[key]; exists {
			t.Errorf("session JSON exposes %q", key)
		}
	}
}

// Requirement: validation fails closed with distinct verdicts for bad
// tokens, missing sessions, inactive sessions and expired sessions.
func TestSessionManager_ValidateVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, store *FakeKV, manager *SessionManager) string
		wantErr error
	}{
		{
			name: "garbage token",
			prepare: func(t *testing.T, store *FakeKV, manager *SessionManager) string {
				return "not-a-token"
			},
			wantErr: core.ErrInvalidToken,
		},
		{
			name: "session invalidated",
			prepare: func(t *testing.T, store *FakeKV, manager *SessionManager) string {
				result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				if _, err := manager.Invalidate(context.Background(), result.Session.ID); err != nil {
					t.Fatalf("Invalidate() error = %v", err)
				}
				return result.AccessToken
			},
			wantErr: core.ErrSessionNotFound,
		},
		{
			name: "session marked inactive",
			prepare: func(t *testing.T, store *FakeKV, manager *SessionManager) string {
				result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				flipActive(t, store, result.Session.ID, false)
				return result.AccessToken
			},
			wantErr: core.ErrSessionInactive,
		},
		{
			name: "session past expiry",
			prepare: func(t *testing.T, store *FakeKV, manager *SessionManager) string {
				result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				rewindExpiry(t, store, result.Session.ID, -time.Minute)
				return result.AccessToken
			},
			wantErr: core.ErrSessionExpired,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := NewFakeKV()
			manager := newTestSessionManager(store, time.Hour)

			token := test.prepare(t, store, manager)

			result, err := manager.Validate(context.Background(), token)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if result.Valid {
				t.Fatal("Validate() verdict = valid, want invalid")
			}
			if !errors.Is(result.Err, test.wantErr) {
				t.Errorf("verdict = %v, want %v", result.Err, test.wantErr)
			}
		})
	}
}

// Requirement: a store failure surfaces as ErrStoreUnavailable, never
// as a session-not-found verdict.
func TestSessionManager_StoreFailureIsNotMissingSession(t *testing.T) {
	store := NewFakeKV()
	manager := newTestSessionManager(store, time.Hour)

	result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	store.getErr = errors.New("connection refused")

	_, err = manager.Validate(context.Background(), result.AccessToken)
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("Validate() error = %v, want ErrStoreUnavailable", err)
	}
	if errors.Is(err, core.ErrSessionNotFound) {
		t.Fatal("store failure conflated with missing session")
	}
}

// Requirement: refresh rotates the token pair on the same session but
// never extends the session's absolute expiry.
func TestSessionManager_RefreshKeepsExpiry(t *testing.T) {
	store := NewFakeKV()
	manager := newTestSessionManager(store, time.Hour)
	user := testUser()

	created, err := manager.Create(context.Background(), user, CreateOptions{MFAVerified: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	originalExpiry := created.Session.ExpiresAt

	refreshed, err := manager.Refresh(context.Background(), created.Session.ID, user)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.Session.ID != created.Session.ID {
		t.Errorf("session id changed on refresh: %q -> %q", created.Session.ID, refreshed.Session.ID)
	}
	if refreshed.AccessToken == created.AccessToken {
		t.Error("access token not rotated")
	}
	if !refreshed.Session.ExpiresAt.Equal(originalExpiry) {
		t.Errorf("ExpiresAt moved from %v to %v", originalExpiry, refreshed.Session.ExpiresAt)
	}

	// The rotated access token carries the original login's MFA claim.
	claims, err := manager.codec.VerifyAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if !claims.MFAVerified {
		t.Error("MFAVerified claim lost on refresh")
	}
}

// Requirement: refresh fails on missing, inactive and expired sessions.
func TestSessionManager_RefreshRejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, store *FakeKV, manager *SessionManager) string
		wantErr error
	}{
		{
			name: "unknown session",
			prepare: func(t *testing.T, store *FakeKV, manager *SessionManager) string {
				return "no-such-session"
			},
			wantErr: core.ErrSessionNotFound,
		},
		{
			name: "inactive session",
			prepare: func(t *testing.T, store *FakeKV, manager *SessionManager) string {
				result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				flipActive(t, store, result.Session.ID, false)
				return result.Session.ID
			},
			wantErr: core.ErrSessionInactive,
		},
		{
			name: "expired session",
			prepare: func(t *testing.T, store *FakeKV, manager *SessionManager) string {
				result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				rewindExpiry(t, store, result.Session.ID, -time.Minute)
				return result.Session.ID
			},
			wantErr: core.ErrSessionExpired,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := NewFakeKV()
			manager := newTestSessionManager(store, time.Hour)

			sessionID := test.prepare(t, store, manager)

			_, err := manager.Refresh(context.Background(), sessionID, testUser())
			if !errors.Is(err, test.wantErr) {
				t.Errorf("Refresh() error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

// Requirement: Invalidate reports whether the session existed, and a
// second invalidation of the same id reports false.
func TestSessionManager_InvalidateIdempotent(t *testing.T) {
	store := NewFakeKV()
	manager := newTestSessionManager(store, time.Hour)

	result, err := manager.Create(context.Background(), testUser(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	existed, err := manager.Invalidate(context.Background(), result.Session.ID)
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if !existed {
		t.Error("first Invalidate() = false, want true")
	}

	existed, err = manager.Invalidate(context.Background(), result.Session.ID)
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if existed {
		t.Error("second Invalidate() = true, want false")
	}
}

// Requirement: InvalidateAllForUser removes exactly that user's
// sessions and reports the count.
func TestSessionManager_InvalidateAllForUser(t *testing.T) {
	store := NewFakeKV()
	manager := newTestSessionManager(store, time.Hour)

	alice := &core.User{ID: "alice", Email: "alice@example.com", Role: core.RoleUser, Active: true}
	bob := &core.User{ID: "bob", Email: "bob@example.com", Role: core.RoleUser, Active: true}

	for i := 0; i < 3; i++ {
		if _, err := manager.Create(context.Background(), alice, CreateOptions{}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	bobSession, err := manager.Create(context.Background(), bob, CreateOptions{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	count, err := manager.InvalidateAllForUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("InvalidateAllForUser() error = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	// Bob's session survives.
	result, err := manager.Validate(context.Background(), bobSession.AccessToken)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("unrelated session invalidated: %v", result.Err)
	}
}

// Requirement: SweepExpired removes only sessions past their expiry.
func TestSessionManager_SweepExpired(t *testing.T) {
	store := NewFakeKV()
	manager := newTestSessionManager(store, time.Hour)

	live, err := manager.Create(context.Background(), testUser(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stale, err := manager.Create(context.Background(), testUser(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	rewindExpiry(t, store, stale.Session.ID, -time.Minute)

	count, err := manager.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	result, err := manager.Validate(context.Background(), live.AccessToken)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("live session swept: %v", result.Err)
	}
}

// flipActive rewrites a stored session record's Active flag in place.
func flipActive(t *testing.T, store *FakeKV, sessionID string, active bool) {
	t.Helper()
	mutateRecord(t, store, sessionID, func(record *sessionRecord) {
		record.Session.Active = active
	})
}

// rewindExpiry moves a stored session record's expiry relative to now.
func rewindExpiry(t *testing.T, store *FakeKV, sessionID string, delta time.Duration) {
	t.Helper()
	mutateRecord(t, store, sessionID, func(record *sessionRecord) {
		record.Session.ExpiresAt = time.Now().Add(delta)
	})
}

func mutateRecord(t *testing.T, store *FakeKV, sessionID string, mutate func(*sessionRecord)) {
	t.Helper()
	raw, err := store.Get(context.Background(), sessionKey(sessionID))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	mutate(&record)
	updated, err := json.Marshal(&record)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := store.Set(context.Background(), sessionKey(sessionID), string(updated), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}
