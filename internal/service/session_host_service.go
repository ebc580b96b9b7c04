// FILE: internal/service/session_host_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/internal/repository/contract"
	"podcast-research-sync/pkg/events"
	"podcast-research-sync/pkg/llm"
	"podcast-research-sync/pkg/quota"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const SessionEventsTopic = "research_session.events"

var ErrShareNotFound = errors.New("research share not found")

// Owner identifies the caller. UserId is set when a valid bearer token was
// presented; ClientId is the anonymous id sent with every request.
type Owner struct {
	ClientId string
	UserId   string
}

func (o Owner) Type() entity.OwnerType {
	if o.UserId != "" {
		return entity.OwnerTypeUser
	}
	return entity.OwnerTypeClient
}

func (o Owner) Id() string {
	if o.UserId != "" {
		return o.UserId
	}
	return o.ClientId
}

func (o Owner) owns(s *entity.RemoteSession) bool {
	switch s.OwnerType {
	case entity.OwnerTypeUser:
		return o.UserId != "" && s.OwnerId == o.UserId
	case entity.OwnerTypeClient:
		return o.ClientId != "" && s.OwnerId == o.ClientId
	}
	return false
}

// AnalysisRun writes the analysis of a session to w. The quota has already
// been charged when it is returned.
type AnalysisRun func(ctx context.Context, w io.Writer) error

type ISessionHostService interface {
	Create(ctx context.Context, owner Owner, req dto.CreateResearchSessionRequest) (*entity.RemoteSession, error)
	Update(ctx context.Context, owner Owner, sessionId string, req dto.UpdateResearchSessionRequest) (*entity.RemoteSession, error)
	Get(ctx context.Context, owner Owner, sessionId string) (*entity.RemoteSession, error)
	List(ctx context.Context, owner Owner) ([]*entity.RemoteSession, error)
	Enrich(ctx context.Context, ids []string) (dto.EnrichItemsResponse, error)
	Share(ctx context.Context, owner Owner, sessionId string, req dto.ShareResearchSessionRequest) (*dto.ShareResearchSessionResponse, error)
	GetShare(ctx context.Context, shareId string) (*entity.ShareSnapshot, error)
	Analyze(ctx context.Context, owner Owner, sessionId, instructions string) (AnalysisRun, error)
}

type SessionHostServiceConfig struct {
	PublicShareBaseURL string
	AnalysisDailyLimit int
	Metrics            *HostMetrics
	Now                func() time.Time
}

type sessionHostService struct {
	sessions  contract.ResearchSessionRepository
	shares    contract.ResearchShareRepository
	limiter   quota.Limiter
	llm       llm.LLMProvider
	publisher ISyncEventPublisher
	logger    logger.ILogger
	catalog   *cache.Cache
	cfg       SessionHostServiceConfig
}

func NewSessionHostService(
	sessions contract.ResearchSessionRepository,
	shares contract.ResearchShareRepository,
	limiter quota.Limiter,
	llmProvider llm.LLMProvider,
	publisher ISyncEventPublisher,
	log logger.ILogger,
	cfg SessionHostServiceConfig,
) ISessionHostService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AnalysisDailyLimit <= 0 {
		cfg.AnalysisDailyLimit = 20
	}
	cfg.PublicShareBaseURL = strings.TrimRight(cfg.PublicShareBaseURL, "/")

	return &sessionHostService{
		sessions:  sessions,
		shares:    shares,
		limiter:   limiter,
		llm:       llmProvider,
		publisher: publisher,
		logger:    log,
		catalog:   cache.New(6*time.Hour, 30*time.Minute),
		cfg:       cfg,
	}
}

func (s *sessionHostService) Create(ctx context.Context, owner Owner, req dto.CreateResearchSessionRequest) (session *entity.RemoteSession, err error) {
	defer func() { s.cfg.Metrics.observeWrite("create", err) }()

	if err := s.claim(ctx, owner); err != nil {
		return nil, err
	}

	session = &entity.RemoteSession{
		Id:        uuid.NewString(),
		OwnerType: owner.Type(),
		OwnerId:   owner.Id(),
		Version:   1,
	}
	applyPayload(session, req.ResearchSessionPayload)

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create research session: %w", err)
	}
	s.remember(session.Items)

	s.logger.Info("SessionHost", "Session created", map[string]interface{}{
		"session_id": session.Id,
		"owner_type": session.OwnerType,
		"items":      len(session.Items),
	})
	s.publish(ctx, events.SessionCreated, session)
	return session, nil
}

func (s *sessionHostService) Update(ctx context.Context, owner Owner, sessionId string, req dto.UpdateResearchSessionRequest) (session *entity.RemoteSession, err error) {
	defer func() { s.cfg.Metrics.observeWrite("update", err) }()

	session, err = s.owned(ctx, owner, sessionId)
	if err != nil {
		return nil, err
	}

	applyPayload(session, req.ResearchSessionPayload)
	if err := s.sessions.Update(ctx, session, req.ExpectedVersion); err != nil {
		if errors.Is(err, contract.ErrVersionMismatch) {
			s.logger.Warn("SessionHost", "Version mismatch", map[string]interface{}{
				"session_id":       sessionId,
				"expected_version": req.ExpectedVersion,
			})
		}
		return nil, err
	}
	s.remember(session.Items)

	s.publish(ctx, events.SessionUpdated, session)
	return session, nil
}

func (s *sessionHostService) Get(ctx context.Context, owner Owner, sessionId string) (*entity.RemoteSession, error) {
	session, err := s.owned(ctx, owner, sessionId)
	if err != nil {
		return nil, err
	}
	s.remember(session.Items)
	return session, nil
}

func (s *sessionHostService) List(ctx context.Context, owner Owner) ([]*entity.RemoteSession, error) {
	if err := s.claim(ctx, owner); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.FindByOwner(ctx, owner.Type(), owner.Id())
	if err != nil {
		return nil, fmt.Errorf("list research sessions: %w", err)
	}
	for _, session := range sessions {
		s.remember(session.Items)
	}
	return sessions, nil
}

// Enrich resolves ids against metadata seen in stored sessions. Unknown ids
// are left out of the result.
func (s *sessionHostService) Enrich(_ context.Context, ids []string) (dto.EnrichItemsResponse, error) {
	resolved := dto.EnrichItemsResponse{}
	for _, id := range ids {
		if x, found := s.catalog.Get(id); found {
			resolved[id] = x.(entity.ItemMetadata)
		}
	}
	return resolved, nil
}

func (s *sessionHostService) Share(ctx context.Context, owner Owner, sessionId string, req dto.ShareResearchSessionRequest) (*dto.ShareResearchSessionResponse, error) {
	session, err := s.owned(ctx, owner, sessionId)
	if err != nil {
		return nil, err
	}

	shareId := uuid.NewString()
	shareUrl := s.cfg.PublicShareBaseURL + "/" + shareId
	snapshot := &entity.ShareSnapshot{
		Id:              shareId,
		SessionId:       session.Id,
		Title:           req.Title,
		Visibility:      req.Visibility,
		Nodes:           req.Nodes,
		Camera:          req.Camera,
		Items:           session.Items,
		PreviewImageURL: shareUrl + "/preview.png",
		CreatedAt:       s.cfg.Now(),
	}
	if err := s.shares.Create(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("create research share: %w", err)
	}

	evt := events.NewSessionEvent(events.SessionShared, session.Id, &session.Version, s.cfg.Now())
	evt.Data["share_id"] = shareId
	s.publisher.Publish(ctx, evt)

	return &dto.ShareResearchSessionResponse{
		ShareId:         shareId,
		ShareUrl:        shareUrl,
		PreviewImageUrl: snapshot.PreviewImageURL,
	}, nil
}

func (s *sessionHostService) GetShare(ctx context.Context, shareId string) (*entity.ShareSnapshot, error) {
	snapshot, err := s.shares.FindById(ctx, shareId)
	if err != nil {
		return nil, fmt.Errorf("find research share: %w", err)
	}
	if snapshot == nil {
		return nil, ErrShareNotFound
	}
	return snapshot, nil
}

// Analyze charges one unit of the caller's daily quota. A spent quota
// yields *dto.LimitExceededError.
func (s *sessionHostService) Analyze(ctx context.Context, owner Owner, sessionId, instructions string) (AnalysisRun, error) {
	session, err := s.owned(ctx, owner, sessionId)
	if err != nil {
		return nil, err
	}

	quotaKey := owner.ClientId
	if quotaKey == "" {
		quotaKey = owner.Id()
	}
	usage, err := s.limiter.Consume(ctx, "analysis:"+quotaKey, s.cfg.AnalysisDailyLimit, s.cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("check analysis quota: %w", err)
	}
	s.cfg.Metrics.observeAnalysis(usage.Allowed)
	if !usage.Allowed {
		s.logger.Warn("SessionHost", "Analysis quota exhausted", map[string]interface{}{
			"session_id": sessionId,
			"used":       usage.Used,
			"limit":      usage.Limit,
		})
		return nil, &dto.LimitExceededError{Limit: usage.Limit, Used: usage.Used, ResetAfter: usage.ResetAfter}
	}

	history := analysisPrompt(session, instructions)
	return func(ctx context.Context, w io.Writer) error {
		if err := llm.Stream(ctx, s.llm, history, w); err != nil {
			s.logger.Error("SessionHost", "Analysis stream failed", map[string]interface{}{
				"session_id": sessionId,
				"error":      err,
			})
			return err
		}
		return nil
	}, nil
}

// claim moves the sessions of an anonymous client to the signed-in user the
// first time both ids arrive together.
func (s *sessionHostService) claim(ctx context.Context, owner Owner) error {
	if owner.UserId == "" || owner.ClientId == "" {
		return nil
	}
	moved, err := s.sessions.TransferOwnership(ctx, owner.ClientId, owner.UserId)
	if err != nil {
		return fmt.Errorf("merge client sessions: %w", err)
	}
	if moved == 0 {
		return nil
	}

	s.logger.Info("SessionHost", "Client sessions merged into user", map[string]interface{}{
		"client_id": owner.ClientId,
		"user_id":   owner.UserId,
		"sessions":  moved,
	})
	now := s.cfg.Now()
	s.publisher.Publish(ctx, events.BaseEvent{
		Type: events.SessionMerged,
		Data: map[string]interface{}{
			"client_id":   owner.ClientId,
			"user_id":     owner.UserId,
			"sessions":    moved,
			"occurred_at": now.UTC().Format(time.RFC3339Nano),
		},
		OccurredAt: now,
	})
	return nil
}

// owned loads a session the caller may touch. Sessions of other owners are
// reported as missing.
func (s *sessionHostService) owned(ctx context.Context, owner Owner, sessionId string) (*entity.RemoteSession, error) {
	if err := s.claim(ctx, owner); err != nil {
		return nil, err
	}
	session, err := s.sessions.FindById(ctx, sessionId)
	if err != nil {
		return nil, fmt.Errorf("find research session: %w", err)
	}
	if session == nil || !owner.owns(session) {
		return nil, contract.ErrSessionNotFound
	}
	return session, nil
}

func (s *sessionHostService) remember(items []entity.SessionItem) {
	for _, item := range items {
		if item.Id != "" {
			s.catalog.SetDefault(item.Id, item.Metadata)
		}
	}
}

func (s *sessionHostService) publish(ctx context.Context, eventType string, session *entity.RemoteSession) {
	version := session.Version
	s.publisher.Publish(ctx, events.NewSessionEvent(eventType, session.Id, &version, s.cfg.Now()))
}

func applyPayload(session *entity.RemoteSession, p dto.ResearchSessionPayload) {
	session.PineconeIds = p.PineconeIds
	session.Items = p.Items
	session.LastItemMetadata = p.LastItemMetadata
	session.CoordinatesById = p.CoordinatesById
	if session.PineconeIds == nil {
		session.PineconeIds = []string{}
	}
	if session.Items == nil {
		session.Items = []entity.SessionItem{}
	}
}

func analysisPrompt(session *entity.RemoteSession, instructions string) []llm.Message {
	var b strings.Builder
	b.WriteString("Research session items:\n")
	for i, item := range session.Items {
		m := item.Metadata
		fmt.Fprintf(&b, "%d. %s", i+1, m.Title)
		if m.Episode != "" {
			fmt.Fprintf(&b, " (%s", m.Episode)
			if m.Creator != "" {
				fmt.Fprintf(&b, ", %s", m.Creator)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
		if text := firstNonEmpty(m.Quote, m.Summary, m.Headline); text != "" {
			fmt.Fprintf(&b, "   %s\n", text)
		}
	}
	b.WriteString("\nInstructions: ")
	b.WriteString(instructions)

	return []llm.Message{
		{Role: "system", Content: "You analyze podcast research sessions. Answer using only the listed items."},
		{Role: "user", Content: b.String()},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
