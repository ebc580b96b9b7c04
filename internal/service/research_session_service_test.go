package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/pkg/events"
	"podcast-research-sync/pkg/kvstore"
	"podcast-research-sync/pkg/pointer"
	"podcast-research-sync/pkg/researchapi"
	"podcast-research-sync/pkg/retry"
	"podcast-research-sync/pkg/sessionsync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResearchAPI struct {
	mu       sync.Mutex
	sessions map[string]*entity.RemoteSession
	nextId   int
	metadata map[string]entity.ItemMetadata

	createCalls int
	updateCalls int
	lastUpdate  dto.UpdateResearchSessionRequest
	lastShare   dto.ShareResearchSessionRequest
	clientIds   []string

	createErr func(n int) error
	updateErr func(n int) error
}

func newFakeResearchAPI() *fakeResearchAPI {
	return &fakeResearchAPI{sessions: map[string]*entity.RemoteSession{}, metadata: map[string]entity.ItemMetadata{}}
}

func (f *fakeResearchAPI) CreateSession(_ context.Context, req dto.CreateResearchSessionRequest) (*entity.RemoteSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.clientIds = append(f.clientIds, req.ClientId)
	if f.createErr != nil {
		if err := f.createErr(f.createCalls); err != nil {
			return nil, err
		}
	}
	f.nextId++
	s := &entity.RemoteSession{
		Id:               fmt.Sprintf("sess-%d", f.nextId),
		OwnerType:        entity.OwnerTypeClient,
		OwnerId:          req.ClientId,
		PineconeIds:      req.PineconeIds,
		Items:            req.Items,
		LastItemMetadata: req.LastItemMetadata,
		CoordinatesById:  req.CoordinatesById,
		Version:          1,
	}
	f.sessions[s.Id] = s
	copied := *s
	return &copied, nil
}

func (f *fakeResearchAPI) UpdateSession(_ context.Context, id string, req dto.UpdateResearchSessionRequest) (*entity.RemoteSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.lastUpdate = req
	if f.updateErr != nil {
		if err := f.updateErr(f.updateCalls); err != nil {
			return nil, err
		}
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, &researchapi.NotFoundError{SessionId: id}
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != s.Version {
		return nil, &researchapi.ConflictError{SessionId: id, ExpectedVersion: req.ExpectedVersion, Attempts: 1}
	}
	s.PineconeIds = req.PineconeIds
	s.Items = req.Items
	s.CoordinatesById = req.CoordinatesById
	s.Version++
	copied := *s
	return &copied, nil
}

func (f *fakeResearchAPI) FetchSession(_ context.Context, id, _ string) (*entity.RemoteSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, &researchapi.NotFoundError{SessionId: id}
	}
	copied := *s
	return &copied, nil
}

func (f *fakeResearchAPI) ListSessions(_ context.Context, clientId string) ([]entity.RemoteSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entity.RemoteSession{}
	for _, s := range f.sessions {
		if s.OwnerId == clientId {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeResearchAPI) EnrichItems(_ context.Context, ids []string, _ string) (map[string]entity.ItemMetadata, error) {
	out := map[string]entity.ItemMetadata{}
	for _, id := range ids {
		if m, ok := f.metadata[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeResearchAPI) ShareSession(_ context.Context, id, _ string, req dto.ShareResearchSessionRequest) (*dto.ShareResearchSessionResponse, error) {
	f.lastShare = req
	return &dto.ShareResearchSessionResponse{ShareId: "share-1", ShareUrl: "https://example.test/share/share-1"}, nil
}

func (f *fakeResearchAPI) AnalyzeSession(context.Context, string, string, string) (*researchapi.AnalysisStream, error) {
	return nil, errors.New("not used")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	api    *fakeResearchAPI
	store  *kvstore.MemoryStore
	clock  *fakeClock
	svc    IResearchSessionService
	pubSub *gochannel.GoChannel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:   newFakeResearchAPI(),
		store: kvstore.NewMemoryStore(),
		clock: &fakeClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)},
		pubSub: gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{}),
	}
	t.Cleanup(func() { _ = h.pubSub.Close() })

	log := logger.NewNopLogger()
	h.svc = NewResearchSessionService(h.api, h.store, NewSyncEventPublisher(SyncEventsTopic, h.pubSub, log), log, ResearchSessionServiceConfig{
		Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Now:   h.clock.Now,
	})
	return h
}

// collectEvents runs fn and returns the types of the first want events
// published on SyncEventsTopic.
func (h *harness) collectEvents(t *testing.T, want int, fn func()) []string {
	t.Helper()
	var types []string
	for _, ev := range recordEvents(t, h.pubSub, SyncEventsTopic, want, fn) {
		types = append(types, ev.EventType())
	}
	return types
}

// recordEvents acks every message on topic while fn runs, so publishers
// blocked on the ack make progress, and returns the first want events in
// publish order.
func recordEvents(t *testing.T, sub message.Subscriber, topic string, want int, fn func()) []events.BaseEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := sub.Subscribe(ctx, topic)
	require.NoError(t, err)

	received := make(chan events.BaseEvent, want)
	go func() {
		for msg := range messages {
			ev, err := DecodeSyncEvent(msg)
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case received <- ev:
			default:
			}
		}
	}()

	fn()

	var out []events.BaseEvent
	for len(out) < want {
		select {
		case ev := <-received:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d events, want %d", len(out), want)
		}
	}
	return out
}

func (h *harness) pointer(t *testing.T) *entity.SessionPointer {
	t.Helper()
	ptr, err := h.svc.CurrentPointer(context.Background())
	require.NoError(t, err)
	return ptr
}

func researchItem(id string) entity.ResearchSessionItem {
	return entity.ResearchSessionItem{ShareLink: id, Quote: "quote " + id, HierarchyLevel: entity.HierarchyLevelParagraph}
}

func TestSaveCreateThenUpdateScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := researchItem("ep1_p3")

	types := h.collectEvents(t, 2, func() {
		_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{first})
		require.NoError(t, err)
		assert.Equal(t, 1, h.api.createCalls)

		ptr := h.pointer(t)
		require.NotNil(t, ptr)
		assert.Equal(t, "sess-1", ptr.SessionId)
		assert.Equal(t, 1, *ptr.Version)

		session, err := h.svc.Save(ctx, []entity.ResearchSessionItem{first, researchItem("ep1_p4")})
		require.NoError(t, err)
		assert.Equal(t, 2, session.Version)
	})
	assert.ElementsMatch(t, []string{events.SessionCreated, events.SessionUpdated}, types)

	assert.Equal(t, 1, h.api.updateCalls)
	assert.Equal(t, 1, *h.api.lastUpdate.ExpectedVersion)
	assert.Equal(t, 2, *h.pointer(t).Version)

	clientId, err := h.svc.ClientId(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{clientId}, h.api.clientIds)
	assert.Equal(t, clientId, h.api.lastUpdate.ClientId)
}

func TestSaveAfterPointerExpiryCreates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)

	h.clock.Advance(pointer.DefaultTTL + time.Second)
	assert.Nil(t, h.pointer(t))

	_, err = h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)
	assert.Equal(t, 2, h.api.createCalls)
	assert.Zero(t, h.api.updateCalls)
	assert.Equal(t, "sess-2", h.pointer(t).SessionId)
}

func TestSaveRecreatesDeletedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)
	delete(h.api.sessions, "sess-1")

	types := h.collectEvents(t, 2, func() {
		session, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a"), researchItem("b")})
		require.NoError(t, err)
		assert.Equal(t, "sess-2", session.Id)
	})
	assert.ElementsMatch(t, []string{events.SessionCleared, events.SessionCreated}, types)
	assert.Equal(t, 1, h.api.updateCalls)
	assert.Equal(t, 2, h.api.createCalls)
	assert.Equal(t, 1, *h.pointer(t).Version)
}

func TestSaveEmptyClearsPointer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)

	session, err := h.svc.Save(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Nil(t, h.pointer(t))
	assert.Zero(t, h.api.updateCalls)
}

func TestSaveConflictRecoveryAndExhaustion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)

	// another writer moves the server ahead
	h.api.sessions["sess-1"].Version = 3

	types := h.collectEvents(t, 1, func() {
		session, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a"), researchItem("b")})
		require.NoError(t, err)
		assert.Equal(t, 4, session.Version)
	})
	assert.Equal(t, []string{events.SessionConflictResolved}, types)
	assert.Equal(t, 4, *h.pointer(t).Version)

	h.api.sessions["sess-1"].Version = 8
	h.api.updateErr = func(n int) error {
		return &researchapi.ConflictError{SessionId: "sess-1"}
	}
	_, err = h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.True(t, errors.Is(err, researchapi.ErrConflict))
	assert.Equal(t, 8, *h.pointer(t).Version, "version fetched during recovery is kept")
}

func TestSaveRejectsOverCapacity(t *testing.T) {
	h := newHarness(t)

	list := make([]entity.ResearchSessionItem, 51)
	for i := range list {
		list[i] = researchItem(fmt.Sprintf("id-%d", i))
	}
	_, err := h.svc.Save(context.Background(), list)
	require.True(t, errors.Is(err, researchapi.ErrValidation))
	assert.Zero(t, h.api.createCalls)
	assert.Nil(t, h.pointer(t))
}

func TestCreateTimeoutLeavesNoPointer(t *testing.T) {
	h := newHarness(t)
	h.api.createErr = func(int) error {
		return &researchapi.TimeoutError{Op: "create research session", After: 30 * time.Second}
	}

	_, err := h.svc.Save(context.Background(), []entity.ResearchSessionItem{researchItem("a")})
	require.True(t, errors.Is(err, researchapi.ErrTimeout))
	assert.Nil(t, h.pointer(t))
	assert.Equal(t, 1, h.store.Len(), "only the client id is stored")
}

func TestSaveWithRetryRecoversFromNetworkErrors(t *testing.T) {
	h := newHarness(t)
	h.api.createErr = func(n int) error {
		if n == 1 {
			return &researchapi.NetworkError{Op: "create research session", Err: errors.New("connection refused")}
		}
		return nil
	}

	session, err := h.svc.SaveWithRetry(context.Background(), []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.Id)
	assert.Equal(t, 2, h.api.createCalls)
}

func TestSaveWithRetryCountsRetries(t *testing.T) {
	api := newFakeResearchAPI()
	api.createErr = func(n int) error {
		if n < 3 {
			return &researchapi.TimeoutError{Op: "create research session", After: time.Second}
		}
		return nil
	}
	reg := prometheus.NewRegistry()
	log := logger.NewNopLogger()
	svc := NewResearchSessionService(api, kvstore.NewMemoryStore(), nil, log, ResearchSessionServiceConfig{
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Metrics: sessionsync.NewMetrics(reg),
	})

	_, err := svc.SaveWithRetry(context.Background(), []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)
	assert.Equal(t, 3, api.createCalls)

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			got[mf.GetName()] += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, got["research_sync_save_retries_total"])
	assert.Equal(t, 3.0, got["research_sync_operations_total"])
}

func TestCurrentClientIdDoesNotCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, ok, err := h.svc.CurrentClientId(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, h.store.Len())

	id, err := h.svc.ClientId(ctx)
	require.NoError(t, err)
	current, ok, err := h.svc.CurrentClientId(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, current)
}

func TestLoadCurrentSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	items, err := h.svc.LoadCurrentSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	withCoords := researchItem("b")
	withCoords.Coordinates = &entity.Coordinates{X: 1, Y: 2, Z: 3}
	_, err = h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a"), withCoords})
	require.NoError(t, err)
	h.api.sessions["sess-1"].Version = 6

	h.clock.Advance(time.Hour)
	items, err = h.svc.LoadCurrentSession(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ShareLink)
	assert.Equal(t, &entity.Coordinates{X: 1, Y: 2, Z: 3}, items[1].Coordinates)
	assert.Equal(t, h.clock.Now(), items[0].AddedAt)
	assert.Equal(t, 6, *h.pointer(t).Version)
}

func TestLoadCurrentSessionMissingOnServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)
	delete(h.api.sessions, "sess-1")

	items, err := h.svc.LoadCurrentSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Nil(t, h.pointer(t))
}

func TestClearSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)

	types := h.collectEvents(t, 1, func() {
		require.NoError(t, h.svc.ClearSession(ctx))
	})
	assert.Equal(t, []string{events.SessionCleared}, types)
	assert.Nil(t, h.pointer(t))
}

func TestShareCurrentSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	nodes := []entity.ShareNode{{Id: "a", Title: "A"}}

	_, err := h.svc.ShareCurrentSession(ctx, ShareOptions{Nodes: nodes})
	require.True(t, errors.Is(err, researchapi.ErrNoActiveSession))
	assert.Contains(t, err.Error(), "no active session")

	_, err = h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)

	_, err = h.svc.ShareCurrentSession(ctx, ShareOptions{})
	require.ErrorIs(t, err, ErrEmptyNodes)

	res, err := h.svc.ShareCurrentSession(ctx, ShareOptions{Title: "My research", Nodes: nodes})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/share/share-1", res.ShareUrl)
	assert.Equal(t, entity.ShareVisibilityUnlisted, h.api.lastShare.Visibility)
	assert.Equal(t, "My research", h.api.lastShare.Title)
}

func TestAnalyzeRequiresSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Analyze(context.Background(), "summarize")
	require.True(t, errors.Is(err, researchapi.ErrNoActiveSession))
}

func TestBackfillItems(t *testing.T) {
	h := newHarness(t)
	h.api.metadata["a"] = entity.ItemMetadata{Quote: "full quote", Episode: "Episode 12"}

	in := []entity.ResearchSessionItem{
		{ShareLink: "a", Quote: "Quote unavailable"},
		{ShareLink: "b"},
		researchItem("c"),
	}
	out, err := h.svc.BackfillItems(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "full quote", out[0].Quote)
	assert.Equal(t, "Episode 12", out[0].Episode)
	assert.Empty(t, out[1].Quote)
	assert.Equal(t, in[2], out[2])
}

func TestListSessionsUsesClientId(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Save(ctx, []entity.ResearchSessionItem{researchItem("a")})
	require.NoError(t, err)
	h.api.sessions["other"] = &entity.RemoteSession{Id: "other", OwnerId: "someone-else"}

	sessions, err := h.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].Id)
}
