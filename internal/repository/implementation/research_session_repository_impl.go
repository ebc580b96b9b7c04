package implementation

import (
	"context"
	"errors"
	"time"

	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/mapper"
	"podcast-research-sync/internal/model"
	"podcast-research-sync/internal/repository/contract"
	"podcast-research-sync/internal/repository/specification"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResearchSessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ResearchSessionMapper
}

func NewResearchSessionRepository(db *gorm.DB) contract.ResearchSessionRepository {
	return &ResearchSessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewResearchSessionMapper(),
	}
}

func (r *ResearchSessionRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ResearchSessionRepositoryImpl) Create(ctx context.Context, session *entity.RemoteSession) error {
	m, err := r.mapper.SessionToModel(session)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	created, err := r.mapper.SessionToEntity(m)
	if err != nil {
		return err
	}
	*session = *created
	return nil
}

func (r *ResearchSessionRepositoryImpl) Update(ctx context.Context, session *entity.RemoteSession, expectedVersion *int) error {
	m, err := r.mapper.SessionToModel(session)
	if err != nil {
		return err
	}

	specs := []specification.Specification{specification.ByID{ID: session.Id}}
	if expectedVersion != nil {
		specs = append(specs, specification.AtVersion{Version: *expectedVersion})
	}

	// UPDATE ... RETURNING: the row handed back is the one this statement wrote.
	var rows []model.ResearchSession
	result := r.applySpecifications(r.db.WithContext(ctx).Model(&rows).Clauses(clause.Returning{}), specs...).
		Updates(map[string]interface{}{
			"pinecone_ids":       m.PineconeIds,
			"items":              m.Items,
			"last_item_metadata": m.LastItemMetadata,
			"coordinates_by_id":  m.CoordinatesById,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 || len(rows) == 0 {
		existing, err := r.FindById(ctx, session.Id)
		if err != nil {
			return err
		}
		if existing == nil {
			return contract.ErrSessionNotFound
		}
		return contract.ErrVersionMismatch
	}

	updated, err := r.mapper.SessionToEntity(&rows[0])
	if err != nil {
		return err
	}
	*session = *updated
	return nil
}

func (r *ResearchSessionRepositoryImpl) FindById(ctx context.Context, id string) (*entity.RemoteSession, error) {
	var m model.ResearchSession
	query := r.applySpecifications(r.db.WithContext(ctx), specification.ByID{ID: id})
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.SessionToEntity(&m)
}

func (r *ResearchSessionRepositoryImpl) FindByOwner(ctx context.Context, ownerType entity.OwnerType, ownerId string) ([]*entity.RemoteSession, error) {
	var models []*model.ResearchSession
	query := r.applySpecifications(r.db.WithContext(ctx),
		specification.OwnedBy{OwnerType: ownerType, OwnerId: ownerId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	sessions := make([]*entity.RemoteSession, 0, len(models))
	for _, m := range models {
		s, err := r.mapper.SessionToEntity(m)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *ResearchSessionRepositoryImpl) TransferOwnership(ctx context.Context, clientId, userId string) (int64, error) {
	result := r.applySpecifications(r.db.WithContext(ctx).Model(&model.ResearchSession{}),
		specification.OwnedBy{OwnerType: entity.OwnerTypeClient, OwnerId: clientId},
	).Updates(map[string]interface{}{
		"owner_type": string(entity.OwnerTypeUser),
		"owner_id":   userId,
	})
	return result.RowsAffected, result.Error
}

type ResearchShareRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ResearchSessionMapper
}

func NewResearchShareRepository(db *gorm.DB) contract.ResearchShareRepository {
	return &ResearchShareRepositoryImpl{
		db:     db,
		mapper: mapper.NewResearchSessionMapper(),
	}
}

func (r *ResearchShareRepositoryImpl) Create(ctx context.Context, share *entity.ShareSnapshot) error {
	m, err := r.mapper.ShareToModel(share)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	share.CreatedAt = m.CreatedAt
	return nil
}

func (r *ResearchShareRepositoryImpl) FindById(ctx context.Context, id string) (*entity.ShareSnapshot, error) {
	var m model.ResearchShare
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ShareToEntity(&m)
}
