package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/internal/pkg/serverutils"
	"podcast-research-sync/internal/repository/memory"
	"podcast-research-sync/internal/service"
	"podcast-research-sync/pkg/llm"
	"podcast-research-sync/pkg/quota"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoLLM struct{}

func (echoLLM) Chat(_ context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	return "analysis", nil
}

func (e echoLLM) Generate(ctx context.Context, p string, opts ...llm.Option) (string, error) {
	return e.Chat(ctx, nil, opts...)
}

func newTestApp(t *testing.T, dailyLimit int) *fiber.App {
	t.Helper()
	log := logger.NewNopLogger()
	svc := service.NewSessionHostService(
		memory.NewSessionRepository(),
		memory.NewShareRepository(),
		quota.NewMemoryLimiter(),
		echoLLM{},
		service.NewNopSyncEventPublisher(),
		log,
		service.SessionHostServiceConfig{PublicShareBaseURL: "https://share.test", AnalysisDailyLimit: dailyLimit},
	)

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewResearchSessionController(svc, "secret", log).RegisterRoutes(app.Group("/api"))
	return app
}

func call(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func createSession(t *testing.T, app *fiber.App, clientId string) entity.RemoteSession {
	t.Helper()
	resp, raw := call(t, app, http.MethodPost, "/api/research-sessions?clientId="+clientId,
		`{"pineconeIds":["ep1_p3"],"items":[{"id":"ep1_p3","metadata":{"title":"T"}}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var envelope dto.BaseResponse[entity.RemoteSession]
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.True(t, envelope.Success)
	return envelope.Data
}

func TestCreateTakesClientIdFromQuery(t *testing.T) {
	app := newTestApp(t, 5)
	session := createSession(t, app, "client-1")
	assert.Equal(t, "client-1", session.OwnerId)
	assert.Equal(t, 1, session.Version)
}

func TestListRequiresClientId(t *testing.T) {
	resp, _ := call(t, newTestApp(t, 5), http.MethodGet, "/api/research-sessions", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStatusCodes(t *testing.T) {
	app := newTestApp(t, 5)
	session := createSession(t, app, "client-1")

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{name: "matching version", target: "/api/research-sessions/" + session.Id + "?clientId=client-1", body: `{"pineconeIds":[],"expectedVersion":1}`, want: http.StatusOK},
		{name: "stale version", target: "/api/research-sessions/" + session.Id + "?clientId=client-1", body: `{"pineconeIds":[],"expectedVersion":1}`, want: http.StatusConflict},
		{name: "other owner", target: "/api/research-sessions/" + session.Id + "?clientId=client-2", body: `{"pineconeIds":[]}`, want: http.StatusNotFound},
		{name: "unknown id", target: "/api/research-sessions/nope?clientId=client-1", body: `{"pineconeIds":[]}`, want: http.StatusNotFound},
		{name: "bad body", target: "/api/research-sessions/" + session.Id + "?clientId=client-1", body: `{`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := call(t, app, http.MethodPatch, tt.target, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(raw))
		})
	}
}

func TestEnrichIsNotShadowedByIdRoute(t *testing.T) {
	app := newTestApp(t, 5)
	createSession(t, app, "client-1")

	resp, raw := call(t, app, http.MethodPost, "/api/research-sessions/enrich?clientId=client-1", `{"pineconeIds":["ep1_p3","x"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var envelope dto.BaseResponse[dto.EnrichItemsResponse]
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Equal(t, "T", envelope.Data["ep1_p3"].Title)
	assert.NotContains(t, envelope.Data, "x")
}

func TestShareDefaultsToUnlisted(t *testing.T) {
	app := newTestApp(t, 5)
	session := createSession(t, app, "client-1")

	resp, raw := call(t, app, http.MethodPost, "/api/research-sessions/"+session.Id+"/share?clientId=client-1", `{"nodes":[{"id":"ep1_p3"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var envelope dto.BaseResponse[dto.ShareResearchSessionResponse]
	require.NoError(t, json.Unmarshal(raw, &envelope))

	resp, raw = call(t, app, http.MethodGet, "/api/research-shares/"+envelope.Data.ShareId, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"Visibility":"unlisted"`)

	resp, _ = call(t, app, http.MethodPost, "/api/research-sessions/"+session.Id+"/share?clientId=client-1", `{"nodes":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeQuotaBody(t *testing.T) {
	app := newTestApp(t, 1)
	session := createSession(t, app, "client-1")
	target := "/api/research-sessions/" + session.Id + "/analyze?clientId=client-1"

	resp, raw := call(t, app, http.MethodPost, target, `{"instructions":"summarize"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "analysis", string(raw))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp, raw = call(t, app, http.MethodPost, target, `{"instructions":"summarize"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body dto.LimitExceededResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "limit_exceeded", body.ErrorType)
	assert.Equal(t, 1, body.Data.Limit)
}
