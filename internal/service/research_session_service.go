// FILE: internal/service/research_session_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/pkg/codec"
	"podcast-research-sync/pkg/enrichment"
	"podcast-research-sync/pkg/events"
	"podcast-research-sync/pkg/identity"
	"podcast-research-sync/pkg/kvstore"
	"podcast-research-sync/pkg/pointer"
	"podcast-research-sync/pkg/researchapi"
	"podcast-research-sync/pkg/retry"
	"podcast-research-sync/pkg/sessionsync"
)

var ErrEmptyNodes = errors.New("share requires at least one node")

// ResearchAPI is everything the facade needs from researchapi.Client.
type ResearchAPI interface {
	sessionsync.API
	ListSessions(ctx context.Context, clientId string) ([]entity.RemoteSession, error)
	EnrichItems(ctx context.Context, ids []string, clientId string) (map[string]entity.ItemMetadata, error)
	ShareSession(ctx context.Context, sessionId, clientId string, req dto.ShareResearchSessionRequest) (*dto.ShareResearchSessionResponse, error)
	AnalyzeSession(ctx context.Context, sessionId, clientId, instructions string) (*researchapi.AnalysisStream, error)
}

type ShareOptions struct {
	Title      string
	Visibility entity.ShareVisibility
	Nodes      []entity.ShareNode
	Camera     *entity.CameraState
}

// IResearchSessionService is the storage-backed session API. It resolves
// the client id and session pointer from the key-value store and keeps the
// pointer in step with every server answer.
type IResearchSessionService interface {
	Save(ctx context.Context, items []entity.ResearchSessionItem) (*entity.RemoteSession, error)
	SaveWithRetry(ctx context.Context, items []entity.ResearchSessionItem) (*entity.RemoteSession, error)
	LoadCurrentSession(ctx context.Context) ([]entity.ResearchSessionItem, error)
	ClearSession(ctx context.Context) error
	CurrentPointer(ctx context.Context) (*entity.SessionPointer, error)
	ListSessions(ctx context.Context) ([]entity.RemoteSession, error)
	Enrich(ctx context.Context, ids []string) (map[string]entity.ItemMetadata, error)
	BackfillItems(ctx context.Context, items []entity.ResearchSessionItem) ([]entity.ResearchSessionItem, error)
	ShareCurrentSession(ctx context.Context, opts ShareOptions) (*dto.ShareResearchSessionResponse, error)
	Analyze(ctx context.Context, instructions string) (*researchapi.AnalysisStream, error)
	ClientId(ctx context.Context) (string, error)
	CurrentClientId(ctx context.Context) (string, bool, error)
}

type ResearchSessionServiceConfig struct {
	MaxItems           int
	MaxConflictRetries int // 0 keeps the engine default, negative disables recovery
	PointerTTL         time.Duration
	Retry              retry.Policy
	EnrichCacheTTL     time.Duration
	Metrics            *sessionsync.Metrics
	Now                func() time.Time
}

type researchSessionService struct {
	api       ResearchAPI
	engine    *sessionsync.Engine
	pointers  *pointer.Cache
	ids       *identity.Manager
	enricher  *enrichment.Client
	publisher ISyncEventPublisher
	logger    logger.ILogger
	retry     retry.Policy
	now       func() time.Time
}

func NewResearchSessionService(
	api ResearchAPI,
	store kvstore.Store,
	publisher ISyncEventPublisher,
	log logger.ILogger,
	cfg ResearchSessionServiceConfig,
) IResearchSessionService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if publisher == nil {
		publisher = NewNopSyncEventPublisher()
	}

	engineOpts := []sessionsync.Option{
		sessionsync.WithLogger(log),
		sessionsync.WithMetrics(cfg.Metrics),
		sessionsync.WithClock(cfg.Now),
		sessionsync.WithMaxItems(cfg.MaxItems),
	}
	switch {
	case cfg.MaxConflictRetries > 0:
		engineOpts = append(engineOpts, sessionsync.WithMaxConflictRetries(cfg.MaxConflictRetries))
	case cfg.MaxConflictRetries < 0:
		engineOpts = append(engineOpts, sessionsync.WithMaxConflictRetries(0))
	}
	engine := sessionsync.NewEngine(api, engineOpts...)

	return &researchSessionService{
		api:       api,
		engine:    engine,
		pointers:  pointer.New(store, pointer.WithTTL(cfg.PointerTTL), pointer.WithClock(cfg.Now)),
		ids:       identity.NewManager(store),
		enricher:  enrichment.NewClient(api, cfg.EnrichCacheTTL, log),
		publisher: publisher,
		logger:    log,
		retry:     cfg.Retry,
		now:       cfg.Now,
	}
}

func (s *researchSessionService) ClientId(ctx context.Context) (string, error) {
	return s.ids.GetOrCreateClientId(ctx)
}

// CurrentClientId reports the stored client id without creating one.
func (s *researchSessionService) CurrentClientId(ctx context.Context) (string, bool, error) {
	return s.ids.CurrentClientId(ctx)
}

func (s *researchSessionService) CurrentPointer(ctx context.Context) (*entity.SessionPointer, error) {
	return s.pointers.Load(ctx)
}

// Save creates or updates the remote copy of items. A session deleted on the
// server is recreated once.
func (s *researchSessionService) Save(ctx context.Context, items []entity.ResearchSessionItem) (*entity.RemoteSession, error) {
	clientId, err := s.ids.GetOrCreateClientId(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client id: %w", err)
	}
	ptr, err := s.pointers.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session pointer: %w", err)
	}

	res, err := s.engine.Save(ctx, clientId, ptr, items)
	if err != nil && ptr != nil && errors.Is(err, researchapi.ErrNotFound) {
		if err := s.clearPointer(ctx, ptr.SessionId); err != nil {
			return nil, err
		}
		s.logger.Warn("SessionSync", "Session no longer exists, creating a new one", map[string]interface{}{
			"session_id": ptr.SessionId,
		})
		res, err = s.engine.Create(ctx, clientId, items)
	}
	if err != nil {
		s.adoptConflictVersion(ctx, err)
		return nil, err
	}

	return s.apply(ctx, ptr, res)
}

// SaveWithRetry retries Save on network errors and timeouts with
// exponential backoff. Each attempt re-reads the pointer.
func (s *researchSessionService) SaveWithRetry(ctx context.Context, items []entity.ResearchSessionItem) (*entity.RemoteSession, error) {
	var session *entity.RemoteSession
	err := s.engine.RetryTransient(ctx, s.retry, func(ctx context.Context) error {
		var err error
		session, err = s.Save(ctx, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// LoadCurrentSession returns the items of the session behind a valid
// pointer. A missing pointer or a session gone from the server yields an
// empty collection.
func (s *researchSessionService) LoadCurrentSession(ctx context.Context) ([]entity.ResearchSessionItem, error) {
	ptr, err := s.pointers.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session pointer: %w", err)
	}
	if ptr == nil {
		return []entity.ResearchSessionItem{}, nil
	}

	clientId, err := s.ids.GetOrCreateClientId(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client id: %w", err)
	}

	session, err := s.api.FetchSession(ctx, ptr.SessionId, clientId)
	if err != nil {
		if errors.Is(err, researchapi.ErrNotFound) {
			if err := s.clearPointer(ctx, ptr.SessionId); err != nil {
				return nil, err
			}
			return []entity.ResearchSessionItem{}, nil
		}
		return nil, err
	}

	if err := s.pointers.SetVersion(ctx, session.Version); err != nil {
		return nil, fmt.Errorf("store session version: %w", err)
	}
	return codec.SessionToFrontend(session, s.now()), nil
}

func (s *researchSessionService) ClearSession(ctx context.Context) error {
	ptr, err := s.pointers.Load(ctx)
	if err != nil {
		return fmt.Errorf("read session pointer: %w", err)
	}
	sessionId := ""
	if ptr != nil {
		sessionId = ptr.SessionId
	}
	return s.clearPointer(ctx, sessionId)
}

func (s *researchSessionService) ListSessions(ctx context.Context) ([]entity.RemoteSession, error) {
	clientId, err := s.ids.GetOrCreateClientId(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client id: %w", err)
	}
	return s.api.ListSessions(ctx, clientId)
}

// Enrich never fails on the network; only a broken local store errors.
func (s *researchSessionService) Enrich(ctx context.Context, ids []string) (map[string]entity.ItemMetadata, error) {
	clientId, err := s.ids.GetOrCreateClientId(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client id: %w", err)
	}
	return s.enricher.Enrich(ctx, ids, clientId), nil
}

// BackfillItems enriches only the items with placeholder or missing text.
func (s *researchSessionService) BackfillItems(ctx context.Context, items []entity.ResearchSessionItem) ([]entity.ResearchSessionItem, error) {
	ids := enrichment.IncompleteIds(items)
	if len(ids) == 0 {
		return items, nil
	}
	resolved, err := s.Enrich(ctx, ids)
	if err != nil {
		return nil, err
	}
	return enrichment.Apply(items, resolved), nil
}

func (s *researchSessionService) ShareCurrentSession(ctx context.Context, opts ShareOptions) (*dto.ShareResearchSessionResponse, error) {
	ptr, err := s.pointers.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session pointer: %w", err)
	}
	if ptr == nil {
		return nil, fmt.Errorf("%w: save the session before sharing it", researchapi.ErrNoActiveSession)
	}
	if len(opts.Nodes) == 0 {
		return nil, ErrEmptyNodes
	}

	clientId, err := s.ids.GetOrCreateClientId(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client id: %w", err)
	}

	visibility := opts.Visibility
	if visibility == "" {
		visibility = entity.ShareVisibilityUnlisted
	}

	res, err := s.api.ShareSession(ctx, ptr.SessionId, clientId, dto.ShareResearchSessionRequest{
		Title:      opts.Title,
		Visibility: visibility,
		Nodes:      opts.Nodes,
		Camera:     opts.Camera,
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.NewSessionEvent(events.SessionShared, ptr.SessionId, ptr.Version, s.now()))
	return res, nil
}

func (s *researchSessionService) Analyze(ctx context.Context, instructions string) (*researchapi.AnalysisStream, error) {
	ptr, err := s.pointers.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session pointer: %w", err)
	}
	if ptr == nil {
		return nil, fmt.Errorf("%w: save the session before analyzing it", researchapi.ErrNoActiveSession)
	}

	clientId, err := s.ids.GetOrCreateClientId(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client id: %w", err)
	}
	return s.api.AnalyzeSession(ctx, ptr.SessionId, clientId, instructions)
}

// apply persists the engine's verdict. The pointer is written only here, so
// a failed or timed-out request never leaves a partial entry.
func (s *researchSessionService) apply(ctx context.Context, prev *entity.SessionPointer, res *sessionsync.Result) (*entity.RemoteSession, error) {
	if res.Cleared {
		sessionId := ""
		if prev != nil {
			sessionId = prev.SessionId
		}
		return nil, s.clearPointer(ctx, sessionId)
	}
	if res.Pointer == nil {
		return res.Session, nil
	}

	if err := s.pointers.Save(ctx, *res.Pointer); err != nil {
		return nil, fmt.Errorf("store session pointer: %w", err)
	}

	eventType := events.SessionUpdated
	switch {
	case res.Created:
		eventType = events.SessionCreated
	case res.Attempts > 1:
		eventType = events.SessionConflictResolved
	}
	s.publisher.Publish(ctx, events.NewSessionEvent(eventType, res.Pointer.SessionId, res.Pointer.Version, s.now()))

	return res.Session, nil
}

// adoptConflictVersion keeps the version fetched during a failed recovery so
// the next save starts from the server's latest known state.
func (s *researchSessionService) adoptConflictVersion(ctx context.Context, err error) {
	var conflict *researchapi.ConflictError
	if !errors.As(err, &conflict) || conflict.LatestVersion == nil {
		return
	}
	if err := s.pointers.SetVersion(ctx, *conflict.LatestVersion); err != nil {
		s.logger.Error("SessionSync", "Failed to store adopted version", map[string]interface{}{"error": err})
	}
}

func (s *researchSessionService) clearPointer(ctx context.Context, sessionId string) error {
	if err := s.pointers.Clear(ctx); err != nil {
		return fmt.Errorf("clear session pointer: %w", err)
	}
	s.logger.Info("SessionSync", "Session pointer cleared", map[string]interface{}{"session_id": sessionId})
	s.publisher.Publish(ctx, events.NewSessionEvent(events.SessionCleared, sessionId, nil, s.now()))
	return nil
}
