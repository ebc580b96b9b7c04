// FILE: internal/entity/research_session_entity.go
package entity

import "time"

type OwnerType string

const (
	OwnerTypeUser   OwnerType = "user"
	OwnerTypeClient OwnerType = "client"
)

// SessionPointer is the local belief about which remote session, at which
// version, the client is synced to.
type SessionPointer struct {
	SessionId string
	Version   *int // nil when no version has been observed (legacy state)
	CachedAt  time.Time
}

// HasVersion reports whether an optimistic-concurrency token is known.
func (p *SessionPointer) HasVersion() bool {
	return p != nil && p.Version != nil
}

// RemoteSession is the server-authoritative copy of a research session.
type RemoteSession struct {
	Id               string                 `json:"id"`
	OwnerType        OwnerType              `json:"ownerType"`
	OwnerId          string                 `json:"ownerId"`
	PineconeIds      []string               `json:"pineconeIds"`
	Items            []SessionItem          `json:"items"`
	LastItemMetadata *ItemMetadata          `json:"lastItemMetadata,omitempty"`
	CoordinatesById  map[string]Coordinates `json:"coordinatesById,omitempty"`
	Version          int                    `json:"version"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

type ShareVisibility string

const (
	ShareVisibilityPublic   ShareVisibility = "public"
	ShareVisibilityUnlisted ShareVisibility = "unlisted"
)

// ShareNode places one session item in a shared layout.
type ShareNode struct {
	Id          string      `json:"id" validate:"required"`
	Title       string      `json:"title,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
}

type CameraState struct {
	Position Coordinates `json:"position"`
	Target   Coordinates `json:"target"`
	Fov      float64     `json:"fov,omitempty"`
}

// ShareSnapshot is an immutable copy of a session plus its presentation layout.
type ShareSnapshot struct {
	Id              string
	SessionId       string
	Title           string
	Visibility      ShareVisibility
	Nodes           []ShareNode
	Camera          *CameraState
	Items           []SessionItem
	PreviewImageURL string
	CreatedAt       time.Time
}
