package specification

import (
	"podcast-research-sync/internal/entity"

	"gorm.io/gorm"
)

// OwnedBy filters research sessions by owner
type OwnedBy struct {
	OwnerType entity.OwnerType
	OwnerId   string
}

func (s OwnedBy) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("owner_type = ? AND owner_id = ?", string(s.OwnerType), s.OwnerId)
}

// AtVersion matches only the given version, for optimistic updates
type AtVersion struct {
	Version int
}

func (s AtVersion) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("version = ?", s.Version)
}
