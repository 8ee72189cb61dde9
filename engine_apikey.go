package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/authsmith/authcore/internal"
	"github.com/authsmith/authcore/store"
)

// CreateAPIKey mints a programmatic credential for an account. The raw
// key appears only in the result; the store keeps its SHA-256 hash. An
// account at its key cap gets [ErrDuplicateCredential].
func (e *Engine) CreateAPIKey(ctx context.Context, accountID, name string, scopes []string) (*APIKeyResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("create api key: name required")
	}

	if _, err := e.store.AccountByID(ctx, accountID); err != nil {
		return nil, wrapStoreErr("create api key", err)
	}

	existing, err := e.store.APIKeysByAccount(ctx, accountID)
	if err != nil {
		return nil, wrapStoreErr("create api key", err)
	}
	active := 0
	for _, k := range existing {
		if k.Active {
			active++
		}
	}
	if active >= e.config.APIKey.MaxKeysPerAccount {
		return nil, fmt.Errorf("create api key: %w: key limit reached", ErrDuplicateCredential)
	}

	rawKey, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("create api key: %v", err)
	}

	rec := &store.APIKey{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		KeyHash:   internal.HashToken(rawKey),
		Scopes:    append([]string(nil), scopes...),
		Active:    true,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.CreateAPIKey(ctx, rec); err != nil {
		return nil, wrapStoreErr("create api key", err)
	}

	e.metricInc(MetricAPIKeyCreated)
	e.emitAudit(ctx, auditEventAPIKeyCreated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"key_id": rec.ID, "key_name": name}
	})

	return &APIKeyResult{
		ID:     rec.ID,
		Name:   name,
		Key:    rawKey,
		Scopes: rec.Scopes,
	}, nil
}

// ListAPIKeys returns summaries of an account's keys, raw material
// excluded.
func (e *Engine) ListAPIKeys(ctx context.Context, accountID string) ([]APIKeySummary, error) {
	keys, err := e.store.APIKeysByAccount(ctx, accountID)
	if err != nil {
		return nil, wrapStoreErr("list api keys", err)
	}

	out := make([]APIKeySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, APIKeySummary{
			ID:        k.ID,
			Name:      k.Name,
			Scopes:    append([]string(nil), k.Scopes...),
			Active:    k.Active,
			CreatedAt: k.CreatedAt,
		})
	}
	return out, nil
}

// RevokeAPIKey deactivates one of the account's keys. Revocation is
// owner-scoped: a key ID belonging to a different account is treated as
// not found.
func (e *Engine) RevokeAPIKey(ctx context.Context, accountID, keyID string) error {
	revoked, err := e.store.RevokeAPIKey(ctx, accountID, keyID)
	if err != nil {
		return wrapStoreErr("revoke api key", err)
	}
	if !revoked {
		return fmt.Errorf("revoke api key: %w", ErrNotFound)
	}

	e.metricInc(MetricAPIKeyRevoked)
	e.emitAudit(ctx, auditEventAPIKeyRevoked, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"key_id": keyID}
	})
	return nil
}

// AuthenticateAPIKey resolves a raw key to its account. Unknown, revoked,
// and inactive-account keys all return [ErrInvalidCredentials].
func (e *Engine) AuthenticateAPIKey(ctx context.Context, rawKey string) (*store.Account, error) {
	if rawKey == "" {
		return nil, ErrInvalidCredentials
	}

	key, err := e.store.APIKeyByHash(ctx, internal.HashToken(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricAPIKeyAuthFailure)
			e.emitAudit(ctx, auditEventAPIKeyAuthFailed, false, "", "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, wrapStoreErr("authenticate api key", err)
	}
	if !key.Active {
		e.metricInc(MetricAPIKeyAuthFailure)
		e.emitAudit(ctx, auditEventAPIKeyAuthFailed, false, key.AccountID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	acct, err := e.store.AccountByID(ctx, key.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricAPIKeyAuthFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, wrapStoreErr("authenticate api key", err)
	}
	if !acct.Active {
		e.metricInc(MetricAPIKeyAuthFailure)
		e.emitAudit(ctx, auditEventAPIKeyAuthFailed, false, acct.ID, "", ErrInactiveAccount, nil)
		return nil, ErrInvalidCredentials
	}

	e.metricInc(MetricAPIKeyAuthSuccess)
	return acct, nil
}
