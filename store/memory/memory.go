// Package memory provides a mutex-guarded in-process implementation of
// [store.Store]. It backs tests and single-node development setups;
// production deployments use store/pg.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/authsmith/authcore/store"
)

// Store keeps all records in maps behind a single mutex. The conditional
// operations (revoke, consume, redeem) do their check and mutation under
// the same lock acquisition, matching the atomicity the interface
// requires.
type Store struct {
	mu sync.Mutex

	accounts    map[string]*store.Account // by ID
	byEmail     map[string]string         // lowercase email -> ID
	byUsername  map[string]string         // username -> ID
	sessions    map[[32]byte]*store.Session
	enrollments map[string]*store.MFAEnrollment
	resetTokens map[[32]byte]*store.ResetToken
	apiKeys     map[string]*store.APIKey // by key ID
	keysByHash  map[[32]byte]string      // key hash -> key ID
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:    make(map[string]*store.Account),
		byEmail:     make(map[string]string),
		byUsername:  make(map[string]string),
		sessions:    make(map[[32]byte]*store.Session),
		enrollments: make(map[string]*store.MFAEnrollment),
		resetTokens: make(map[[32]byte]*store.ResetToken),
		apiKeys:     make(map[string]*store.APIKey),
		keysByHash:  make(map[[32]byte]string),
	}
}

func (s *Store) CreateAccount(_ context.Context, a *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(a.Email)
	if _, taken := s.byEmail[email]; taken {
		return store.ErrDuplicate
	}
	if _, taken := s.byUsername[a.Username]; taken {
		return store.ErrDuplicate
	}
	if _, taken := s.accounts[a.ID]; taken {
		return store.ErrDuplicate
	}

	cp := *a
	s.accounts[a.ID] = &cp
	s.byEmail[email] = a.ID
	s.byUsername[a.Username] = a.ID
	return nil
}

func (s *Store) AccountByIdentifier(_ context.Context, identifier string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(identifier)]
	if !ok {
		id, ok = s.byUsername[identifier]
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.accountCopyLocked(id)
}

func (s *Store) AccountByID(_ context.Context, id string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountCopyLocked(id)
}

func (s *Store) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.PasswordHash = newHash
	return nil
}

func (s *Store) SetAccountActive(_ context.Context, accountID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.Active = active
	return nil
}

func (s *Store) SetAccountVerified(_ context.Context, accountID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.Verified = verified
	return nil
}

func (s *Store) CreateSession(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.sessions[sess.TokenHash]; taken {
		return store.ErrDuplicate
	}
	cp := *sess
	s.sessions[sess.TokenHash] = &cp
	return nil
}

func (s *Store) SessionByTokenHash(_ context.Context, tokenHash [32]byte) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) RevokeSession(_ context.Context, tokenHash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[tokenHash]
	if !ok || !sess.Active {
		return false, nil
	}
	sess.Active = false
	return true, nil
}

func (s *Store) RevokeAccountSessions(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.AccountID == accountID {
			sess.Active = false
		}
	}
	return nil
}

func (s *Store) MFAEnrollment(_ context.Context, accountID string) (*store.MFAEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}

	cp := *e
	cp.Secret = append([]byte(nil), e.Secret...)
	cp.BackupCodeHashes = append([][32]byte(nil), e.BackupCodeHashes...)
	return &cp, nil
}

func (s *Store) SaveMFAEnrollment(_ context.Context, e *store.MFAEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	cp.Secret = append([]byte(nil), e.Secret...)
	cp.BackupCodeHashes = append([][32]byte(nil), e.BackupCodeHashes...)
	s.enrollments[e.AccountID] = &cp
	return nil
}

func (s *Store) SetMFAEnabled(_ context.Context, accountID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[accountID]
	if !ok {
		return store.ErrNotFound
	}
	e.Enabled = enabled
	return nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, accountID string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[accountID]
	if !ok {
		return store.ErrNotFound
	}
	e.BackupCodeHashes = append([][32]byte(nil), hashes...)
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[accountID]
	if !ok {
		return false, store.ErrNotFound
	}

	for i, h := range e.BackupCodeHashes {
		if h == hash {
			e.BackupCodeHashes = append(e.BackupCodeHashes[:i], e.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateResetToken(_ context.Context, t *store.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.resetTokens[t.TokenHash]; taken {
		return store.ErrDuplicate
	}
	cp := *t
	s.resetTokens[t.TokenHash] = &cp
	return nil
}

func (s *Store) RedeemResetToken(_ context.Context, tokenHash [32]byte, newPasswordHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.resetTokens[tokenHash]
	if !ok || t.Used || !now.Before(t.ExpiresAt) {
		return "", store.ErrNotFound
	}
	a, ok := s.accounts[t.AccountID]
	if !ok {
		return "", store.ErrNotFound
	}

	t.Used = true
	a.PasswordHash = newPasswordHash
	return t.AccountID, nil
}

func (s *Store) CreateAPIKey(_ context.Context, k *store.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.apiKeys[k.ID]; taken {
		return store.ErrDuplicate
	}
	if _, taken := s.keysByHash[k.KeyHash]; taken {
		return store.ErrDuplicate
	}

	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	s.apiKeys[k.ID] = &cp
	s.keysByHash[k.KeyHash] = k.ID
	return nil
}

func (s *Store) APIKeysByAccount(_ context.Context, accountID string) ([]store.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.APIKey
	for _, k := range s.apiKeys {
		if k.AccountID != accountID {
			continue
		}
		cp := *k
		cp.Scopes = append([]string(nil), k.Scopes...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) APIKeyByHash(_ context.Context, keyHash [32]byte) (*store.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keysByHash[keyHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	k := s.apiKeys[id]
	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	return &cp, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, accountID, keyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[keyID]
	if !ok || k.AccountID != accountID || !k.Active {
		return false, nil
	}
	k.Active = false
	return true, nil
}

func (s *Store) accountCopyLocked(id string) (*store.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

var _ store.Store = (*Store)(nil)
