package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/repository/contract"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps research sessions in process memory. It backs the
// dev server when no database is configured, and the handler tests.
type SessionRepository struct {
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		cache: cache.New(cache.NoExpiration, 0),
		now:   time.Now,
	}
}

var _ contract.ResearchSessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) Create(_ context.Context, session *entity.RemoteSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	session.CreatedAt = now
	session.UpdatedAt = now
	r.cache.Set(session.Id, cloneSession(session), cache.NoExpiration)
	return nil
}

func (r *SessionRepository) Update(_ context.Context, session *entity.RemoteSession, expectedVersion *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, found := r.cache.Get(session.Id)
	if !found {
		return contract.ErrSessionNotFound
	}
	stored := x.(*entity.RemoteSession)
	if expectedVersion != nil && *expectedVersion != stored.Version {
		return contract.ErrVersionMismatch
	}

	updated := cloneSession(stored)
	updated.PineconeIds = session.PineconeIds
	updated.Items = session.Items
	updated.LastItemMetadata = session.LastItemMetadata
	updated.CoordinatesById = session.CoordinatesById
	updated.Version = stored.Version + 1
	updated.UpdatedAt = r.now()

	r.cache.Set(session.Id, updated, cache.NoExpiration)
	*session = *cloneSession(updated)
	return nil
}

func (r *SessionRepository) FindById(_ context.Context, id string) (*entity.RemoteSession, error) {
	if x, found := r.cache.Get(id); found {
		return cloneSession(x.(*entity.RemoteSession)), nil
	}
	return nil, nil
}

func (r *SessionRepository) FindByOwner(_ context.Context, ownerType entity.OwnerType, ownerId string) ([]*entity.RemoteSession, error) {
	sessions := make([]*entity.RemoteSession, 0)
	for _, item := range r.cache.Items() {
		s := item.Object.(*entity.RemoteSession)
		if s.OwnerType == ownerType && s.OwnerId == ownerId {
			sessions = append(sessions, cloneSession(s))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (r *SessionRepository) TransferOwnership(_ context.Context, clientId, userId string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var moved int64
	for id, item := range r.cache.Items() {
		s := item.Object.(*entity.RemoteSession)
		if s.OwnerType != entity.OwnerTypeClient || s.OwnerId != clientId {
			continue
		}
		updated := cloneSession(s)
		updated.OwnerType = entity.OwnerTypeUser
		updated.OwnerId = userId
		r.cache.Set(id, updated, cache.NoExpiration)
		moved++
	}
	return moved, nil
}

// ShareRepository is the in-memory share snapshot store.
type ShareRepository struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewShareRepository() *ShareRepository {
	return &ShareRepository{
		cache: cache.New(cache.NoExpiration, 0),
		now:   time.Now,
	}
}

var _ contract.ResearchShareRepository = (*ShareRepository)(nil)

func (r *ShareRepository) Create(_ context.Context, share *entity.ShareSnapshot) error {
	share.CreatedAt = r.now()
	copied := *share
	r.cache.Set(share.Id, &copied, cache.NoExpiration)
	return nil
}

func (r *ShareRepository) FindById(_ context.Context, id string) (*entity.ShareSnapshot, error) {
	if x, found := r.cache.Get(id); found {
		copied := *x.(*entity.ShareSnapshot)
		return &copied, nil
	}
	return nil, nil
}

// cloneSession deep-copies through JSON so callers never share slices or
// maps with the stored value.
func cloneSession(s *entity.RemoteSession) *entity.RemoteSession {
	b, err := json.Marshal(s)
	if err != nil {
		copied := *s
		return &copied
	}
	var out entity.RemoteSession
	if err := json.Unmarshal(b, &out); err != nil {
		copied := *s
		return &copied
	}
	return &out
}
