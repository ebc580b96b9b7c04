// Package pointer is the local record of which remote research session, at
// which version, this client believes it is synced to.
//
// Expiry is lazy: a pointer older than the TTL is cleared the next time it is
// read. The TTL is a local cache heuristic; it says nothing about how long the
// server retains the session.
package pointer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"podcast-research-sync/internal/entity"
	"podcast-research-sync/pkg/kvstore"
)

const (
	SessionIdKey        = "research_session_id"
	SessionTimestampKey = "research_session_timestamp"
	SessionVersionKey   = "research_session_version"

	DefaultTTL = 24 * time.Hour
)

type Cache struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(store kvstore.Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// SessionId returns the cached id if it was stored less than TTL ago.
// A missing, malformed or expired record is cleared and reported absent.
func (c *Cache) SessionId(ctx context.Context) (string, bool, error) {
	id, _, ok, err := c.readFresh(ctx)
	if err != nil || !ok {
		return "", false, err
	}
	return id, true, nil
}

func (c *Cache) readFresh(ctx context.Context) (string, time.Time, bool, error) {
	id, hasId, err := c.store.Get(ctx, SessionIdKey)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("read session id: %w", err)
	}
	rawTs, hasTs, err := c.store.Get(ctx, SessionTimestampKey)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("read session timestamp: %w", err)
	}

	if hasId && id != "" && hasTs {
		if ms, parseErr := strconv.ParseInt(rawTs, 10, 64); parseErr == nil {
			cachedAt := time.UnixMilli(ms)
			if c.now().Sub(cachedAt) < c.ttl {
				return id, cachedAt, true, nil
			}
		}
	}

	if hasId || hasTs {
		if err := c.Clear(ctx); err != nil {
			return "", time.Time{}, false, err
		}
	}
	return "", time.Time{}, false, nil
}

// SetSessionId stores the id and refreshes the timestamp to now.
func (c *Cache) SetSessionId(ctx context.Context, id string) error {
	if err := c.store.Set(ctx, SessionIdKey, id); err != nil {
		return fmt.Errorf("write session id: %w", err)
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	if err := c.store.Set(ctx, SessionTimestampKey, ts); err != nil {
		return fmt.Errorf("write session timestamp: %w", err)
	}
	return nil
}

func (c *Cache) Version(ctx context.Context) (int, bool, error) {
	raw, ok, err := c.store.Get(ctx, SessionVersionKey)
	if err != nil {
		return 0, false, fmt.Errorf("read session version: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

func (c *Cache) SetVersion(ctx context.Context, version int) error {
	if err := c.store.Set(ctx, SessionVersionKey, strconv.Itoa(version)); err != nil {
		return fmt.Errorf("write session version: %w", err)
	}
	return nil
}

// Clear removes id, timestamp and version in one store operation.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx, SessionIdKey, SessionTimestampKey, SessionVersionKey); err != nil {
		return fmt.Errorf("clear session pointer: %w", err)
	}
	return nil
}

// Load returns the current pointer, or nil when none is valid.
func (c *Cache) Load(ctx context.Context) (*entity.SessionPointer, error) {
	id, cachedAt, ok, err := c.readFresh(ctx)
	if err != nil || !ok {
		return nil, err
	}
	ptr := &entity.SessionPointer{SessionId: id, CachedAt: cachedAt}

	v, hasVersion, err := c.Version(ctx)
	if err != nil {
		return nil, err
	}
	if hasVersion {
		ptr.Version = &v
	}
	return ptr, nil
}

// Save persists ptr, refreshing its timestamp. A nil Version leaves any
// stored version untouched.
func (c *Cache) Save(ctx context.Context, ptr entity.SessionPointer) error {
	if err := c.SetSessionId(ctx, ptr.SessionId); err != nil {
		return err
	}
	if ptr.Version != nil {
		return c.SetVersion(ctx, *ptr.Version)
	}
	return nil
}
