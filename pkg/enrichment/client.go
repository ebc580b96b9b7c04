// Package enrichment backfills incomplete item metadata in one batched
// request. It is best effort: failures are logged and yield fewer results,
// never an error.
package enrichment

import (
	"context"
	"time"

	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/pkg/logger"

	"github.com/patrickmn/go-cache"
)

// PlaceholderQuote is what the UI shows while an item's quote is loading.
const PlaceholderQuote = "Quote unavailable"

type Fetcher interface {
	EnrichItems(ctx context.Context, ids []string, clientId string) (map[string]entity.ItemMetadata, error)
}

type Client struct {
	fetcher Fetcher
	cache   *cache.Cache
	logger  logger.ILogger
}

// NewClient memoises resolved metadata for ttl so repeated enrichment of the
// same ids only requests the misses.
func NewClient(fetcher Fetcher, ttl time.Duration, log logger.ILogger) *Client {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Client{
		fetcher: fetcher,
		cache:   cache.New(ttl, 2*ttl),
		logger:  log,
	}
}

// Enrich returns whatever subset of ids could be resolved.
func (c *Client) Enrich(ctx context.Context, ids []string, clientId string) map[string]entity.ItemMetadata {
	resolved := make(map[string]entity.ItemMetadata)

	var misses []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if x, found := c.cache.Get(id); found {
			resolved[id] = x.(entity.ItemMetadata)
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return resolved
	}

	fetched, err := c.fetcher.EnrichItems(ctx, misses, clientId)
	if err != nil {
		c.logger.Warn("Enrichment", "enrichment request failed", map[string]interface{}{
			"requested": len(misses),
			"error":     err.Error(),
		})
		return resolved
	}

	for _, id := range misses {
		meta, ok := fetched[id]
		if !ok {
			continue
		}
		c.cache.Set(id, meta, cache.DefaultExpiration)
		resolved[id] = meta
	}

	c.logger.Debug("Enrichment", "enrichment resolved", map[string]interface{}{
		"requested": len(misses),
		"resolved":  len(resolved),
	})
	return resolved
}

// NeedsEnrichment reports whether an item is missing its display text.
func NeedsEnrichment(item entity.ResearchSessionItem) bool {
	if item.Quote == PlaceholderQuote {
		return true
	}
	return item.DisplayText() == ""
}

// IncompleteIds lists the ids of items that need enrichment, in order.
func IncompleteIds(items []entity.ResearchSessionItem) []string {
	var ids []string
	for _, item := range items {
		if item.ShareLink != "" && NeedsEnrichment(item) {
			ids = append(ids, item.ShareLink)
		}
	}
	return ids
}

// Apply copies resolved metadata onto matching items. Fields already set on
// an item win, except the placeholder quote.
func Apply(items []entity.ResearchSessionItem, resolved map[string]entity.ItemMetadata) []entity.ResearchSessionItem {
	out := make([]entity.ResearchSessionItem, len(items))
	for i, item := range items {
		meta, ok := resolved[item.ShareLink]
		if !ok {
			out[i] = item
			continue
		}
		if item.Quote == "" || item.Quote == PlaceholderQuote {
			item.Quote = meta.Quote
		}
		item.Summary = firstNonEmpty(item.Summary, meta.Summary)
		item.Headline = firstNonEmpty(item.Headline, meta.Headline)
		item.Episode = firstNonEmpty(item.Episode, meta.Episode)
		item.Creator = firstNonEmpty(item.Creator, meta.Creator)
		item.ImageURL = firstNonEmpty(item.ImageURL, meta.ImageURL)
		item.Date = firstNonEmpty(item.Date, meta.Date)
		if item.HierarchyLevel == "" {
			item.HierarchyLevel = meta.HierarchyLevel
		}
		out[i] = item
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
