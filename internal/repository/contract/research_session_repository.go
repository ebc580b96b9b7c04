package contract

import (
	"context"
	"errors"

	"podcast-research-sync/internal/entity"
)

var (
	ErrSessionNotFound = errors.New("research session not found")
	ErrVersionMismatch = errors.New("research session version mismatch")
)

type ResearchSessionRepository interface {
	Create(ctx context.Context, session *entity.RemoteSession) error
	// Update replaces the content of session and increments its version.
	// A non-nil expectedVersion must match the stored version.
	Update(ctx context.Context, session *entity.RemoteSession, expectedVersion *int) error
	FindById(ctx context.Context, id string) (*entity.RemoteSession, error) // nil, nil when absent
	FindByOwner(ctx context.Context, ownerType entity.OwnerType, ownerId string) ([]*entity.RemoteSession, error)
	// TransferOwnership moves every session owned by clientId to userId.
	TransferOwnership(ctx context.Context, clientId, userId string) (int64, error)
}

type ResearchShareRepository interface {
	Create(ctx context.Context, share *entity.ShareSnapshot) error
	FindById(ctx context.Context, id string) (*entity.ShareSnapshot, error) // nil, nil when absent
}
