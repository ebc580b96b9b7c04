package bootstrap

import (
	"context"
	"log"

	"podcast-research-sync/internal/config"
	"podcast-research-sync/internal/controller"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/internal/repository/contract"
	"podcast-research-sync/internal/repository/implementation"
	"podcast-research-sync/internal/repository/memory"
	"podcast-research-sync/internal/service"
	"podcast-research-sync/pkg/events"
	"podcast-research-sync/pkg/llm"
	"podcast-research-sync/pkg/llm/factory"
	"podcast-research-sync/pkg/quota"

	pktNats "podcast-research-sync/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ResearchSessionController controller.IResearchSessionController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	Logger logger.ILogger
	// Gatherer backs the /metrics endpoint.
	Gatherer prometheus.Gatherer

	closers []func()
}

// Overrides replaces infrastructure the container would otherwise build
// from config. Tests use it to run the server without Ollama.
type Overrides struct {
	LLMProvider llm.LLMProvider
	Logger      logger.ILogger
	// Registry replaces the default prometheus registry.
	Registry *prometheus.Registry
}

// NewContainer wires the dev server. A nil db selects the in-memory
// repositories; an empty RedisURL selects the in-memory quota.
func NewContainer(db *gorm.DB, cfg *config.Config, overrides ...Overrides) *Container {
	var ov Overrides
	if len(overrides) > 0 {
		ov = overrides[0]
	}

	// 1. Core Facades
	sysLogger := ov.Logger
	if sysLogger == nil {
		sysLogger = logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	}
	c := &Container{Logger: sysLogger}

	var sessionRepo contract.ResearchSessionRepository
	var shareRepo contract.ResearchShareRepository
	if db != nil {
		sessionRepo = implementation.NewResearchSessionRepository(db)
		shareRepo = implementation.NewResearchShareRepository(db)
	} else {
		log.Println("[INFO] No database configured, using in-memory session storage")
		sessionRepo = memory.NewSessionRepository()
		shareRepo = memory.NewShareRepository()
	}

	// 2. Event Bus
	// Publish waits for the relay's ack so events leave in version order.
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// NATS (optional)
	var relay events.Publisher
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			relay = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	// Redis quota (optional)
	var limiter quota.Limiter = quota.NewMemoryLimiter()
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{
				Addr: cfg.App.RedisURL,
			}
		}
		rdb := redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v. Using in-memory quota", err)
			_ = rdb.Close()
		} else {
			limiter = quota.NewRedisLimiter(rdb)
			c.closers = append(c.closers, func() { _ = rdb.Close() })
		}
	}

	// LLM Provider
	llmProvider := ov.LLMProvider
	if llmProvider == nil {
		var err error
		llmProvider, err = factory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, cfg.Ai.OllamaBaseURL)
		if err != nil {
			log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
		}
		log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	c.Gatherer = prometheus.DefaultGatherer
	if ov.Registry != nil {
		registerer = ov.Registry
		c.Gatherer = ov.Registry
	}

	// 3. Services
	publisherService := service.NewSyncEventPublisher(service.SessionEventsTopic, pubSub, sysLogger)
	c.ConsumerService = service.NewConsumerService(pubSub, service.SessionEventsTopic, relay, sysLogger)

	hostService := service.NewSessionHostService(
		sessionRepo,
		shareRepo,
		limiter,
		llmProvider,
		publisherService,
		sysLogger,
		service.SessionHostServiceConfig{
			PublicShareBaseURL: cfg.App.PublicShareBaseURL,
			AnalysisDailyLimit: cfg.Ai.AnalysisDailyLimit,
			Metrics:            service.NewHostMetrics(registerer),
		},
	)

	// 4. Controllers
	c.ResearchSessionController = controller.NewResearchSessionController(hostService, cfg.Auth.JwtSecret, sysLogger)
	return c
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}
