package dto

import (
	"time"

	"podcast-research-sync/internal/entity"
)

// BaseResponse is the envelope every session endpoint answers with.
type BaseResponse[T any] struct {
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// ResearchSessionPayload is the body shared by create and update.
type ResearchSessionPayload struct {
	PineconeIds      []string                      `json:"pineconeIds" validate:"max=50,dive,required"`
	Items            []entity.SessionItem          `json:"items" validate:"max=50,dive"`
	LastItemMetadata *entity.ItemMetadata          `json:"lastItemMetadata,omitempty"`
	CoordinatesById  map[string]entity.Coordinates `json:"coordinatesById,omitempty"`
	ClientId         string                        `json:"clientId" validate:"required"`
}

type CreateResearchSessionRequest struct {
	ResearchSessionPayload
}

type UpdateResearchSessionRequest struct {
	ResearchSessionPayload
	// nil means an unconditional update.
	ExpectedVersion *int `json:"expectedVersion,omitempty"`
}

type ResearchSessionResponse = entity.RemoteSession

type EnrichItemsRequest struct {
	PineconeIds []string `json:"pineconeIds" validate:"required,min=1,max=200,dive,required"`
}

type EnrichItemsResponse map[string]entity.ItemMetadata

type ShareResearchSessionRequest struct {
	Title      string                 `json:"title,omitempty" validate:"max=200"`
	Visibility entity.ShareVisibility `json:"visibility" validate:"required,oneof=public unlisted"`
	Nodes      []entity.ShareNode     `json:"nodes" validate:"required,min=1,dive"`
	Camera     *entity.CameraState    `json:"camera,omitempty"`
}

type ShareResearchSessionResponse struct {
	ShareId         string `json:"shareId"`
	ShareUrl        string `json:"shareUrl"`
	PreviewImageUrl string `json:"previewImageUrl"`
}

type AnalyzeResearchSessionRequest struct {
	Instructions string `json:"instructions" validate:"required,max=4000"`
}

// --- Limit Exceeded Error Types ---

// LimitExceededError is a custom error that carries usage details
type LimitExceededError struct {
	Limit      int       `json:"limit"`
	Used       int       `json:"used"`
	ResetAfter time.Time `json:"reset_after"`
}

func (e *LimitExceededError) Error() string {
	return "daily analysis limit exceeded"
}

// LimitExceededData is the data payload for 429 responses
type LimitExceededData struct {
	Limit      int       `json:"limit"`
	Used       int       `json:"used"`
	ResetAfter time.Time `json:"reset_after"`
}

// LimitExceededResponse is the full 429 response structure
type LimitExceededResponse struct {
	Success   bool              `json:"success"`
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	ErrorType string            `json:"error_type"`
	Data      LimitExceededData `json:"data"`
}
