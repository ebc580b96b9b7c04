// Package codec converts research items between the client representation
// and the session server's wire payload. Everything here is pure.
package codec

import (
	"time"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
)

// FallbackTitle is used when an item has neither headline nor quote.
const FallbackTitle = "Research Item"

// ItemsToIds projects ShareLink from each item, preserving order.
func ItemsToIds(items []entity.ResearchSessionItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ShareLink
	}
	return ids
}

// ItemsToPayload emits one {id, metadata} entry per item.
func ItemsToPayload(items []entity.ResearchSessionItem) []entity.SessionItem {
	payload := make([]entity.SessionItem, len(items))
	for i, item := range items {
		payload[i] = entity.SessionItem{
			Id:       item.ShareLink,
			Metadata: itemMetadata(item),
		}
	}
	return payload
}

// BuildLastItemMetadata summarises the most recently added item, or returns
// nil for an empty list.
func BuildLastItemMetadata(items []entity.ResearchSessionItem) *entity.ItemMetadata {
	if len(items) == 0 {
		return nil
	}
	meta := itemMetadata(items[len(items)-1])
	return &meta
}

// BuildCoordinatesById returns a sparse map of items carrying coordinates,
// or nil when none do so the field is omitted from the payload.
func BuildCoordinatesById(items []entity.ResearchSessionItem) map[string]entity.Coordinates {
	var coords map[string]entity.Coordinates
	for _, item := range items {
		if item.Coordinates == nil {
			continue
		}
		if coords == nil {
			coords = make(map[string]entity.Coordinates)
		}
		coords[item.ShareLink] = *item.Coordinates
	}
	return coords
}

// BuildPayload assembles the create/update body for items.
func BuildPayload(items []entity.ResearchSessionItem, clientId string) dto.ResearchSessionPayload {
	return dto.ResearchSessionPayload{
		PineconeIds:      ItemsToIds(items),
		Items:            ItemsToPayload(items),
		LastItemMetadata: BuildLastItemMetadata(items),
		CoordinatesById:  BuildCoordinatesById(items),
		ClientId:         clientId,
	}
}

// BackendItemsToFrontend rebuilds client items from stored ones. Entries with
// no id are dropped. AddedAt is not stored server-side, so every item gets now.
func BackendItemsToFrontend(items []entity.SessionItem, coords map[string]entity.Coordinates, now time.Time) []entity.ResearchSessionItem {
	out := make([]entity.ResearchSessionItem, 0, len(items))
	for _, item := range items {
		if item.Id == "" {
			continue
		}
		ri := entity.ResearchSessionItem{
			ShareLink:      item.Id,
			Quote:          item.Metadata.Quote,
			Summary:        item.Metadata.Summary,
			Headline:       item.Metadata.Headline,
			Episode:        item.Metadata.Episode,
			Creator:        item.Metadata.Creator,
			ImageURL:       item.Metadata.ImageURL,
			Date:           item.Metadata.Date,
			HierarchyLevel: item.Metadata.HierarchyLevel,
			AddedAt:        now,
		}
		if c, ok := coords[item.Id]; ok {
			c := c
			ri.Coordinates = &c
		}
		out = append(out, ri)
	}
	return out
}

// SessionToFrontend is BackendItemsToFrontend over a whole remote session.
func SessionToFrontend(session *entity.RemoteSession, now time.Time) []entity.ResearchSessionItem {
	if session == nil {
		return []entity.ResearchSessionItem{}
	}
	return BackendItemsToFrontend(session.Items, session.CoordinatesById, now)
}

func itemMetadata(item entity.ResearchSessionItem) entity.ItemMetadata {
	return entity.ItemMetadata{
		Title:          resolveTitle(item),
		Quote:          item.Quote,
		Summary:        item.Summary,
		Headline:       item.Headline,
		Episode:        item.Episode,
		Creator:        item.Creator,
		ImageURL:       item.ImageURL,
		Date:           item.Date,
		HierarchyLevel: item.HierarchyLevel,
	}
}

func resolveTitle(item entity.ResearchSessionItem) string {
	if item.Headline != "" {
		return item.Headline
	}
	if item.Quote != "" {
		return item.Quote
	}
	return FallbackTitle
}
