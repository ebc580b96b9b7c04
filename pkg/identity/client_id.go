// Package identity resolves the stable anonymous client id that accompanies
// every session request. The server uses it to merge anonymous sessions into
// an account once the user signs in.
package identity

import (
	"context"
	"fmt"

	"podcast-research-sync/pkg/kvstore"

	"github.com/google/uuid"
)

const (
	ClientIdKey       = "research_client_id"
	LegacyClientIdKey = "podcast_client_id"
)

type Manager struct {
	store kvstore.Store
	newId func() string
}

func NewManager(store kvstore.Store) *Manager {
	return &Manager{
		store: store,
		newId: uuid.NewString,
	}
}

// GetOrCreateClientId returns the current id, migrating a legacy id forward or
// generating a fresh UUID when neither exists. Repeated calls are stable.
func (m *Manager) GetOrCreateClientId(ctx context.Context) (string, error) {
	id, ok, err := m.store.Get(ctx, ClientIdKey)
	if err != nil {
		return "", fmt.Errorf("read client id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	legacy, ok, err := m.store.Get(ctx, LegacyClientIdKey)
	if err != nil {
		return "", fmt.Errorf("read legacy client id: %w", err)
	}
	if ok && legacy != "" {
		if err := m.store.Set(ctx, ClientIdKey, legacy); err != nil {
			return "", fmt.Errorf("migrate client id: %w", err)
		}
		if err := m.store.Delete(ctx, LegacyClientIdKey); err != nil {
			return "", fmt.Errorf("remove legacy client id: %w", err)
		}
		return legacy, nil
	}

	id = m.newId()
	if err := m.store.Set(ctx, ClientIdKey, id); err != nil {
		return "", fmt.Errorf("persist client id: %w", err)
	}
	return id, nil
}

// CurrentClientId reads the id without creating or migrating anything.
func (m *Manager) CurrentClientId(ctx context.Context) (string, bool, error) {
	id, ok, err := m.store.Get(ctx, ClientIdKey)
	if err != nil {
		return "", false, err
	}
	return id, ok && id != "", nil
}
