// FILE: internal/entity/research_item_entity.go
package entity

import "time"

type HierarchyLevel string

const (
	HierarchyLevelFeed      HierarchyLevel = "feed"
	HierarchyLevelEpisode   HierarchyLevel = "episode"
	HierarchyLevelChapter   HierarchyLevel = "chapter"
	HierarchyLevelParagraph HierarchyLevel = "paragraph"
)

func (l HierarchyLevel) IsValid() bool {
	switch l {
	case HierarchyLevelFeed, HierarchyLevelEpisode, HierarchyLevelChapter, HierarchyLevelParagraph:
		return true
	}
	return false
}

// Coordinates is a point in the galaxy view. Only visualization consumers read it.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ResearchSessionItem is the client-facing unit of a research session.
// ShareLink doubles as the item's external reference on the server.
type ResearchSessionItem struct {
	ShareLink      string         `json:"shareLink" validate:"required"`
	Quote          string         `json:"quote,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Headline       string         `json:"headline,omitempty"`
	Episode        string         `json:"episode,omitempty"`
	Creator        string         `json:"creator,omitempty"`
	ImageURL       string         `json:"imageUrl,omitempty"`
	Date           string         `json:"date,omitempty"`
	HierarchyLevel HierarchyLevel `json:"hierarchyLevel,omitempty"`
	Coordinates    *Coordinates   `json:"coordinates3d,omitempty"`

	// Client only. The server does not keep per-item insertion time,
	// so this is re-derived on load.
	AddedAt time.Time `json:"addedAt"`
}

// DisplayText returns the first non-empty of headline, quote and summary.
func (i ResearchSessionItem) DisplayText() string {
	switch {
	case i.Headline != "":
		return i.Headline
	case i.Quote != "":
		return i.Quote
	default:
		return i.Summary
	}
}

// ItemMetadata is the per-item metadata stored by the session server.
type ItemMetadata struct {
	Title          string         `json:"title"`
	Quote          string         `json:"quote,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Headline       string         `json:"headline,omitempty"`
	Episode        string         `json:"episode,omitempty"`
	Creator        string         `json:"creator,omitempty"`
	ImageURL       string         `json:"imageUrl,omitempty"`
	Date           string         `json:"date,omitempty"`
	HierarchyLevel HierarchyLevel `json:"hierarchyLevel,omitempty"`
}

// SessionItem is one stored item: its id plus metadata.
type SessionItem struct {
	Id       string       `json:"id"`
	Metadata ItemMetadata `json:"metadata"`
}
