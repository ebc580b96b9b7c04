// Package cli implements the research-sync command line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"podcast-research-sync/internal/config"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/internal/service"
	"podcast-research-sync/pkg/kvstore"
	"podcast-research-sync/pkg/researchapi"
	"podcast-research-sync/pkg/retry"
	"podcast-research-sync/pkg/sessionsync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

type Options struct {
	Config *config.Config
	// Store overrides the store selected by RESEARCH_STORAGE.
	Store kvstore.Store
	// Registry replaces the default prometheus registry.
	Registry *prometheus.Registry
	Out      io.Writer
	Err      io.Writer
}

type app struct {
	opts        Options
	verbose     bool
	token       string
	dumpMetrics bool

	store    kvstore.Store
	svc      service.IResearchSessionService
	logger   logger.ILogger
	gatherer prometheus.Gatherer
	closers  []func()
}

func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "research-sync",
		Short: "Sync a podcast research session with the session server",
		Long: `research-sync keeps a local research session in step with the session server.

The client id, session pointer and auth token live in the store selected by
RESEARCH_STORAGE (memory or redis). Use redis to keep state between runs.

Quick Start:
  research-sync save items.json     # create or update the session
  research-sync load                # print the current session
  research-sync analyze "themes?"   # stream an analysis`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if a.dumpMetrics {
				return a.writeMetrics(a.opts.Err)
			}
			return nil
		},
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Mirror sync logs to stderr")
	root.PersistentFlags().StringVar(&a.token, "token", "", "Bearer token for this call (overrides the stored one)")
	root.PersistentFlags().BoolVar(&a.dumpMetrics, "metrics", false, "Print sync metrics to stderr when the command finishes")

	root.AddCommand(
		a.saveCmd(),
		a.loadCmd(),
		a.clearCmd(),
		a.listCmd(),
		a.enrichCmd(),
		a.shareCmd(),
		a.analyzeCmd(),
		a.whoamiCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.watchCmd(),
	)
	return root
}

// Execute runs the CLI with configuration from the environment.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(Options{Config: config.Load()})
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) init(ctx context.Context) error {
	cfg := a.opts.Config.Client

	if a.verbose {
		a.logger = logger.NewCLILogger(cfg.LogFilePath, false)
	} else {
		a.logger = logger.NewIsolatedLogger(cfg.LogFilePath)
	}
	a.closers = append(a.closers, func() { _ = a.logger.Sync() })

	a.store = a.opts.Store
	if a.store == nil {
		switch cfg.Storage {
		case "redis":
			rs, err := kvstore.NewRedisStoreFromURL(ctx, a.opts.Config.App.RedisURL, cfg.StorageNamespace)
			if err != nil {
				return err
			}
			a.store = rs
			a.closers = append(a.closers, func() { _ = rs.Close() })
		case "memory", "":
			a.logger.Warn("CLI", "Using in-memory storage, state is lost when the command exits", nil)
			a.store = kvstore.NewMemoryStore()
		default:
			return fmt.Errorf("unknown RESEARCH_STORAGE %q (want memory or redis)", cfg.Storage)
		}
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	a.gatherer = prometheus.DefaultGatherer
	if a.opts.Registry != nil {
		registerer = a.opts.Registry
		a.gatherer = a.opts.Registry
	}

	publisher, err := a.startSyncEvents()
	if err != nil {
		return err
	}

	var tokens researchapi.TokenSource = researchapi.NewStoreTokenSource(a.store)
	if a.token != "" {
		tokens = researchapi.StaticToken(a.token)
	}
	api := researchapi.NewClient(cfg.BaseURL,
		researchapi.WithTokenSource(tokens),
		researchapi.WithCreateTimeout(cfg.CreateTimeout),
	)

	a.svc = service.NewResearchSessionService(api, a.store, publisher, a.logger, service.ResearchSessionServiceConfig{
		MaxItems:           cfg.MaxItems,
		MaxConflictRetries: cfg.MaxConflictRetries,
		PointerTTL:         cfg.PointerTTL,
		Retry:              retry.Policy{MaxAttempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay},
		EnrichCacheTTL:     cfg.EnrichCacheTTL,
		Metrics:            sessionsync.NewMetrics(registerer),
	})
	return nil
}

// startSyncEvents runs an in-process bus on SyncEventsTopic and logs every
// pointer transition the facade publishes.
func (a *app) startSyncEvents() (service.ISyncEventPublisher, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermill.NopLogger{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := pubSub.Subscribe(ctx, service.SyncEventsTopic)
	if err != nil {
		cancel()
		_ = pubSub.Close()
		return nil, fmt.Errorf("subscribe sync events: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			evt, err := service.DecodeSyncEvent(msg)
			msg.Ack()
			if err != nil {
				a.logger.Warn("CLI", "Undecodable sync event", map[string]interface{}{"error": err.Error()})
				continue
			}
			details := evt.Payload()
			details["event_type"] = evt.EventType()
			a.logger.Info("CLI", "Sync event", details)
		}
	}()

	a.closers = append(a.closers, func() {
		cancel()
		_ = pubSub.Close()
		<-done
	})
	return service.NewSyncEventPublisher(service.SyncEventsTopic, pubSub, a.logger), nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// writeMetrics prints the research_sync families in the prometheus text format.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "research_sync_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.opts.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
