package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"podcast-research-sync/internal/bootstrap"
	"podcast-research-sync/internal/config"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/internal/server"
	"podcast-research-sync/pkg/identity"
	"podcast-research-sync/pkg/kvstore"
	"podcast-research-sync/pkg/llm"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLLM struct{}

func (fixedLLM) Chat(context.Context, []llm.Message, ...llm.Option) (string, error) {
	return "one theme", nil
}

func (f fixedLLM) Generate(ctx context.Context, _ string, opts ...llm.Option) (string, error) {
	return f.Chat(ctx, nil, opts...)
}

func startServer(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{
			CorsAllowedOrigins: "http://localhost:5173",
			PublicShareBaseURL: "https://share.test",
		},
		Ai: config.AIConfig{AnalysisDailyLimit: 5},
	}
	container := bootstrap.NewContainer(nil, cfg, bootstrap.Overrides{LLMProvider: fixedLLM{}, Logger: logger.NewNopLogger()})
	app := server.New(cfg, container).GetApp()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = app.Shutdown()
		container.Close()
	})
	return "http://" + ln.Addr().String()
}

type runner struct {
	t     *testing.T
	cfg   *config.Config
	store kvstore.Store
	reg   *prometheus.Registry

	stderr string
}

func newRunner(t *testing.T) *runner {
	return &runner{
		t: t,
		cfg: &config.Config{Client: config.ClientConfig{
			BaseURL:            startServer(t),
			CreateTimeout:      5 * time.Second,
			MaxItems:           50,
			RetryAttempts:      1,
			MaxConflictRetries: 1,
			LogFilePath:        filepath.Join(t.TempDir(), "research-sync.log"),
		}},
		store: kvstore.NewMemoryStore(),
		reg:   prometheus.NewRegistry(),
	}
}

func (r *runner) run(args ...string) (string, error) {
	r.t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand(Options{Config: r.cfg, Store: r.store, Registry: r.reg, Out: &out, Err: &errOut})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	r.stderr = errOut.String()
	return out.String(), err
}

func writeItems(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSaveLoadShareAnalyzeClear(t *testing.T) {
	r := newRunner(t)

	out, err := r.run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "session:    none")
	assert.Contains(t, out, "signed in:  false")

	items := writeItems(t, `[{"shareLink":"ep1_p3","headline":"Slow news","coordinates3d":{"x":1,"y":2,"z":3}}]`)
	out, err = r.run("save", items)
	require.NoError(t, err)
	assert.Contains(t, out, "v1")

	items = writeItems(t, `[{"shareLink":"ep1_p3","headline":"Slow news"},{"shareLink":"ep1_p4","quote":"Fast"}]`)
	out, err = r.run("save", "--retry", items)
	require.NoError(t, err)
	assert.Contains(t, out, "v2")

	out, err = r.run("load")
	require.NoError(t, err)
	assert.Contains(t, out, `"shareLink": "ep1_p4"`)

	out, err = r.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, " *")

	out, err = r.run("enrich", "ep1_p3")
	require.NoError(t, err)
	assert.Contains(t, out, "Slow news")

	out, err = r.run("share", "My research")
	require.NoError(t, err)
	assert.Contains(t, out, "https://share.test/")

	out, err = r.run("analyze", "what", "connects", "these?")
	require.NoError(t, err)
	assert.Contains(t, out, "one theme")

	_, err = r.run("clear")
	require.NoError(t, err)
	out, err = r.run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "session:    none")
}

func TestShareWithoutSessionExplainsNextStep(t *testing.T) {
	r := newRunner(t)
	_, err := r.run("share")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "research-sync save")
}

func TestSaveRejectsOversizedCollection(t *testing.T) {
	r := newRunner(t)
	r.cfg.Client.MaxItems = 1

	_, err := r.run("save", writeItems(t, `[{"shareLink":"a"},{"shareLink":"b"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum 1 items allowed")
}

func TestLoginIsReportedByWhoami(t *testing.T) {
	r := newRunner(t)
	_, err := r.run("login", "tok")
	require.NoError(t, err)

	out, err := r.run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in:  true")
}

func TestUnknownStorage(t *testing.T) {
	r := newRunner(t)
	r.store = nil
	r.cfg.Client.Storage = "sqlite"

	_, err := r.run("whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown RESEARCH_STORAGE")
}

func TestWatchRequiresNats(t *testing.T) {
	r := newRunner(t)
	_, err := r.run("watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS_URL")
}

func TestWhoamiDoesNotAssignClientId(t *testing.T) {
	r := newRunner(t)
	store := kvstore.NewMemoryStore()
	r.store = store

	out, err := r.run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "client id:  none")
	assert.Zero(t, store.Len())

	_, err = r.run("save", writeItems(t, `[{"shareLink":"a","quote":"q"}]`))
	require.NoError(t, err)
	id, ok, err := store.Get(context.Background(), identity.ClientIdKey)
	require.NoError(t, err)
	require.True(t, ok)

	out, err = r.run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "client id:  "+id)
}

func TestSaveRecordsMetricsAndSyncEvents(t *testing.T) {
	r := newRunner(t)
	items := writeItems(t, `[{"shareLink":"a","quote":"q"}]`)

	_, err := r.run("save", "--metrics", items)
	require.NoError(t, err)
	assert.Contains(t, r.stderr, `research_sync_operations_total{operation="create",outcome="success"} 1`)

	_, err = r.run("save", items)
	require.NoError(t, err)

	families, err := r.reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "research_sync_operations_total")

	logged, err := os.ReadFile(r.cfg.Client.LogFilePath)
	require.NoError(t, err)
	assert.Contains(t, string(logged), `"event_type":"research_session.created"`)
	assert.Contains(t, string(logged), `"event_type":"research_session.updated"`)
}
