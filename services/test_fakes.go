package services

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/jmfrees/warden/core"
)

// FakeKV is a test-only fake implementing core.KV. It stores values in
// a map, honors TTLs, and exposes error fields for behavior injection.
type FakeKV struct {
	mu      sync.RWMutex
	values  map[string]fakeEntry
	getErr  error
	setErr  error
	delErr  error
	keysErr error
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func NewFakeKV() *FakeKV {
	return &FakeKV{values: make(map[string]fakeEntry)}
}

func (f *FakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	e, ok := f.values[key]
	if !ok {
		return "", core.ErrKeyNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return "", core.ErrKeyNotFound
	}
	return e.value, nil
}

func (f *FakeKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	f.values[key] = fakeEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (f *FakeKV) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return false, f.delErr
	}
	_, existed := f.values[key]
	delete(f.values, key)
	return existed, nil
}

func (f *FakeKV) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	var keys []string
	for k := range f.values {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// FakeUserStore is a test-only fake implementing core.UserStore.
type FakeUserStore struct {
	mu     sync.RWMutex
	users  map[string]*core.User // by id
	hashes map[string]string     // by id
	getErr error
}

func NewFakeUserStore() *FakeUserStore {
	return &FakeUserStore{
		users:  make(map[string]*core.User),
		hashes: make(map[string]string),
	}
}

func (f *FakeUserStore) Put(user *core.User, passwordHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	f.hashes[user.ID] = passwordHash
}

func (f *FakeUserStore) GetUserByID(_ context.Context, id string) (*core.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return u, nil
}

func (f *FakeUserStore) GetUserByEmail(_ context.Context, email string) (*core.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (f *FakeUserStore) GetPasswordHash(_ context.Context, userID string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.hashes[userID]
	if !ok {
		return "", core.ErrUserNotFound
	}
	return h, nil
}

// FakeMFASecretStore is a test-only fake implementing core.MFASecretStore.
type FakeMFASecretStore struct {
	mu        sync.RWMutex
	secrets   map[string]*core.MFASecret // by user id
	updateErr error
}

func NewFakeMFASecretStore() *FakeMFASecretStore {
	return &FakeMFASecretStore{secrets: make(map[string]*core.MFASecret)}
}

func (f *FakeMFASecretStore) GetSecret(_ context.Context, userID string) (*core.MFASecret, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.secrets[userID]
	if !ok {
		return nil, core.ErrMFANotEnrolled
	}
	return s, nil
}

func (f *FakeMFASecretStore) SaveSecret(_ context.Context, secret *core.MFASecret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[secret.UserID] = secret
	return nil
}

func (f *FakeMFASecretStore) MarkVerified(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[userID]
	if !ok {
		return core.ErrMFANotEnrolled
	}
	s.VerifiedAt = &at
	return nil
}

func (f *FakeMFASecretStore) UpdateBackupCodes(_ context.Context, userID string, remaining []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	s, ok := f.secrets[userID]
	if !ok {
		return core.ErrMFANotEnrolled
	}
	s.BackupCodes = remaining
	return nil
}

func (f *FakeMFASecretStore) DeleteSecret(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.secrets, userID)
	return nil
}

// FakeCredentialStore is a test-only fake implementing core.CredentialStore.
type FakeCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]*core.WebAuthnCredential // by credential id
	updateErr   error
}

func NewFakeCredentialStore() *FakeCredentialStore {
	return &FakeCredentialStore{credentials: make(map[string]*core.WebAuthnCredential)}
}

func (f *FakeCredentialStore) GetCredentials(_ context.Context, userID string) ([]*core.WebAuthnCredential, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var creds []*core.WebAuthnCredential
	for _, c := range f.credentials {
		if c.UserID == userID {
			creds = append(creds, c)
		}
	}
	return creds, nil
}

func (f *FakeCredentialStore) GetCredential(_ context.Context, credentialID string) (*core.WebAuthnCredential, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.credentials[credentialID]
	if !ok {
		return nil, core.ErrCredentialNotFound
	}
	return c, nil
}

func (f *FakeCredentialStore) SaveCredential(_ context.Context, cred *core.WebAuthnCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials[cred.CredentialID] = cred
	return nil
}

func (f *FakeCredentialStore) UpdateSignCount(_ context.Context, credentialID string, count uint32, usedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	c, ok := f.credentials[credentialID]
	if !ok {
		return core.ErrCredentialNotFound
	}
	c.SignCount = count
	c.LastUsedAt = &usedAt
	return nil
}

func (f *FakeCredentialStore) DeleteCredential(_ context.Context, credentialID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.credentials, credentialID)
	return nil
}
