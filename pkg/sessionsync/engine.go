// Package sessionsync decides between creating and updating a remote
// research session and recovers from version conflicts.
//
// The engine holds no storage of its own: callers pass the client id and the
// current session pointer in, and persist the pointer returned in Result.
package sessionsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/pkg/codec"
	"podcast-research-sync/pkg/researchapi"
	"podcast-research-sync/pkg/retry"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	module = "SessionSync"

	DefaultMaxItems           = 50
	DefaultMaxConflictRetries = 1
)

// API is the subset of researchapi.Client the engine talks to.
type API interface {
	CreateSession(ctx context.Context, req dto.CreateResearchSessionRequest) (*entity.RemoteSession, error)
	UpdateSession(ctx context.Context, sessionId string, req dto.UpdateResearchSessionRequest) (*entity.RemoteSession, error)
	FetchSession(ctx context.Context, sessionId, clientId string) (*entity.RemoteSession, error)
}

// Result is the outcome of a successful save. Pointer is nil when the
// caller must clear its stored pointer. Attempts counts update requests, so
// a value above 1 means a conflict was resolved.
type Result struct {
	Session  *entity.RemoteSession
	Pointer  *entity.SessionPointer
	Created  bool
	Cleared  bool
	Attempts int
}

type Engine struct {
	api                API
	logger             logger.ILogger
	metrics            *Metrics
	tracer             trace.Tracer
	validate           *validator.Validate
	now                func() time.Time
	maxItems           int
	maxConflictRetries int
}

type Option func(*Engine)

func WithLogger(l logger.ILogger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMaxItems(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxItems = n
		}
	}
}

// WithMaxConflictRetries bounds the refetch-and-retry cycles per update.
// Zero disables recovery.
func WithMaxConflictRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxConflictRetries = n
		}
	}
}

func NewEngine(api API, opts ...Option) *Engine {
	e := &Engine{
		api:                api,
		logger:             logger.NewNopLogger(),
		tracer:             otel.Tracer("podcast-research-sync/sessionsync"),
		validate:           validator.New(),
		now:                time.Now,
		maxItems:           DefaultMaxItems,
		maxConflictRetries: DefaultMaxConflictRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Save updates the session behind ptr, or creates one when ptr is nil.
// An empty collection never creates a session; with a pointer it asks the
// caller to clear it.
func (e *Engine) Save(ctx context.Context, clientId string, ptr *entity.SessionPointer, items []entity.ResearchSessionItem) (*Result, error) {
	if len(items) == 0 {
		if ptr != nil {
			e.logger.Info(module, "Empty collection, clearing session pointer", map[string]interface{}{
				"session_id": ptr.SessionId,
			})
			return &Result{Cleared: true}, nil
		}
		return &Result{}, nil
	}

	if ptr == nil || ptr.SessionId == "" {
		return e.Create(ctx, clientId, items)
	}

	return e.Update(ctx, clientId, *ptr, items)
}

// SaveWithRetry retries Save on network errors and timeouts only.
func (e *Engine) SaveWithRetry(ctx context.Context, clientId string, ptr *entity.SessionPointer, items []entity.ResearchSessionItem, policy retry.Policy) (*Result, error) {
	var res *Result
	err := e.RetryTransient(ctx, policy, func(ctx context.Context) error {
		var err error
		res, err = e.Save(ctx, clientId, ptr, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RetryTransient runs op under policy, retrying network errors and timeouts.
// Every retry is logged and counted. Callers that keep state around Save
// (pointer storage, 404 recovery) wrap their own save in it.
func (e *Engine) RetryTransient(ctx context.Context, policy retry.Policy, op func(ctx context.Context) error) error {
	_, err := retry.Do(ctx, policy, researchapi.IsTransient,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, op(ctx)
		},
		func(attempt int, err error, next time.Duration) {
			e.metrics.observeRetry()
			e.logger.Warn(module, "Save failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"delay":   next.String(),
				"error":   err.Error(),
			})
		})
	return err
}

func (e *Engine) Create(ctx context.Context, clientId string, items []entity.ResearchSessionItem) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "sessionsync.create", trace.WithAttributes(
		attribute.Int("items", len(items)),
	))
	start := e.now()
	defer func() { e.finish(span, "create", start, err) }()

	if err := e.validateItems(items); err != nil {
		return nil, err
	}

	req := dto.CreateResearchSessionRequest{ResearchSessionPayload: codec.BuildPayload(items, clientId)}
	session, err := e.api.CreateSession(ctx, req)
	if err != nil {
		e.logger.Error(module, "Create failed", map[string]interface{}{"error": err})
		return nil, err
	}

	e.logger.Info(module, "Session created", map[string]interface{}{
		"session_id": session.Id,
		"version":    session.Version,
	})
	span.SetAttributes(attribute.String("session_id", session.Id))
	return &Result{Session: session, Pointer: e.pointerFor(session), Created: true, Attempts: 1}, nil
}

// Update PATCHes the session behind ptr. On a version conflict the current
// remote version is fetched and the update is retried, at most
// maxConflictRetries times.
func (e *Engine) Update(ctx context.Context, clientId string, ptr entity.SessionPointer, items []entity.ResearchSessionItem) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "sessionsync.update", trace.WithAttributes(
		attribute.String("session_id", ptr.SessionId),
		attribute.Int("items", len(items)),
	))
	start := e.now()
	defer func() { e.finish(span, "update", start, err) }()

	if err := e.validateItems(items); err != nil {
		return nil, err
	}

	payload := codec.BuildPayload(items, clientId)
	expected := ptr.Version

	var lastErr error
	for attempt := 0; attempt <= e.maxConflictRetries; attempt++ {
		if attempt > 0 {
			latest, err := e.refetchVersion(ctx, ptr.SessionId, clientId)
			if err != nil {
				return nil, err
			}
			expected = &latest
		}

		req := dto.UpdateResearchSessionRequest{ResearchSessionPayload: payload, ExpectedVersion: expected}
		session, err := e.api.UpdateSession(ctx, ptr.SessionId, req)
		if err == nil {
			if attempt > 0 {
				e.metrics.observeConflictResolved()
			}
			e.logger.Info(module, "Session updated", map[string]interface{}{
				"session_id": session.Id,
				"version":    session.Version,
				"attempt":    attempt + 1,
			})
			return &Result{Session: session, Pointer: e.pointerFor(session), Attempts: attempt + 1}, nil
		}

		var conflict *researchapi.ConflictError
		if !errors.As(err, &conflict) {
			e.logger.Error(module, "Update failed", map[string]interface{}{
				"session_id": ptr.SessionId,
				"error":      err,
			})
			return nil, err
		}

		conflict.Attempts = attempt + 1
		if attempt > 0 {
			conflict.LatestVersion = expected
		}
		e.logger.Warn(module, "Version conflict", map[string]interface{}{
			"session_id":       ptr.SessionId,
			"expected_version": versionDetail(expected),
			"attempt":          attempt + 1,
		})
		lastErr = err
	}

	return nil, lastErr
}

func (e *Engine) refetchVersion(ctx context.Context, sessionId, clientId string) (int, error) {
	remote, err := e.api.FetchSession(ctx, sessionId, clientId)
	if err != nil {
		return 0, fmt.Errorf("refetch after conflict: %w", err)
	}
	e.logger.Debug(module, "Adopted server version", map[string]interface{}{
		"session_id": sessionId,
		"version":    remote.Version,
	})
	return remote.Version, nil
}

func (e *Engine) validateItems(items []entity.ResearchSessionItem) error {
	if len(items) > e.maxItems {
		return &researchapi.ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("maximum %d items allowed", e.maxItems),
		}
	}
	for i, item := range items {
		if err := e.validate.Struct(item); err != nil {
			return &researchapi.ValidationError{
				Field:   fmt.Sprintf("items[%d]", i),
				Message: "shareLink is required",
			}
		}
	}
	return nil
}

func (e *Engine) pointerFor(session *entity.RemoteSession) *entity.SessionPointer {
	v := session.Version
	return &entity.SessionPointer{SessionId: session.Id, Version: &v, CachedAt: e.now()}
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, err error) {
	e.metrics.observe(op, outcomeOf(err), e.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func versionDetail(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
