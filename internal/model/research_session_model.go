package model

import (
	"time"

	"gorm.io/datatypes"
)

type ResearchSession struct {
	Id               string         `gorm:"type:uuid;primaryKey"`
	OwnerType        string         `gorm:"type:varchar(16);not null;index:idx_research_sessions_owner"`
	OwnerId          string         `gorm:"type:varchar(255);not null;index:idx_research_sessions_owner"`
	PineconeIds      datatypes.JSON `gorm:"type:jsonb;not null"`
	Items            datatypes.JSON `gorm:"type:jsonb;not null"`
	LastItemMetadata datatypes.JSON `gorm:"type:jsonb"`
	CoordinatesById  datatypes.JSON `gorm:"type:jsonb"`
	Version          int            `gorm:"not null;default:1"`
	CreatedAt        time.Time      `gorm:"autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime"`
}

func (ResearchSession) TableName() string {
	return "research_sessions"
}

// ResearchShare is an immutable snapshot of a session plus its layout.
type ResearchShare struct {
	Id              string         `gorm:"type:uuid;primaryKey"`
	SessionId       string         `gorm:"type:uuid;not null;index"`
	Title           string         `gorm:"type:text"`
	Visibility      string         `gorm:"type:varchar(16);not null"`
	Nodes           datatypes.JSON `gorm:"type:jsonb;not null"`
	Camera          datatypes.JSON `gorm:"type:jsonb"`
	Items           datatypes.JSON `gorm:"type:jsonb;not null"`
	PreviewImageURL string         `gorm:"type:text"`
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
}

func (ResearchShare) TableName() string {
	return "research_shares"
}
