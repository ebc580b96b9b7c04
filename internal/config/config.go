package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Client   ClientConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Ai       AIConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	PublicShareBaseURL string
}

// ClientConfig drives the session sync client and the research-sync CLI.
type ClientConfig struct {
	BaseURL            string
	Storage            string // "memory" or "redis"
	StorageNamespace   string
	CreateTimeout      time.Duration
	PointerTTL         time.Duration
	MaxItems           int
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	MaxConflictRetries int
	EnrichCacheTTL     time.Duration
	LogFilePath        string
}

type DatabaseConfig struct {
	Connection string // empty selects the in-memory repository
}

type AuthConfig struct {
	JwtSecret string
}

type AIConfig struct {
	LLMProvider        string
	LLMModel           string
	OllamaBaseURL      string
	AnalysisDailyLimit int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/devserver.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			PublicShareBaseURL: getEnv("PUBLIC_SHARE_BASE_URL", "http://localhost:5173/share"),
		},
		Client: ClientConfig{
			BaseURL:            getEnv("RESEARCH_API_BASE_URL", "http://localhost:3000"),
			Storage:            getEnv("RESEARCH_STORAGE", "memory"),
			StorageNamespace:   getEnv("RESEARCH_STORAGE_NAMESPACE", "research-sync"),
			CreateTimeout:      getEnvAsDuration("RESEARCH_CREATE_TIMEOUT", 30*time.Second),
			PointerTTL:         getEnvAsDuration("RESEARCH_POINTER_TTL", 24*time.Hour),
			MaxItems:           getEnvAsInt("RESEARCH_MAX_ITEMS", 50),
			RetryAttempts:      getEnvAsInt("RESEARCH_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:     getEnvAsDuration("RESEARCH_RETRY_BASE_DELAY", time.Second),
			MaxConflictRetries: getEnvAsInt("RESEARCH_CONFLICT_RETRIES", 1),
			EnrichCacheTTL:     getEnvAsDuration("RESEARCH_ENRICH_CACHE_TTL", 10*time.Minute),
			LogFilePath:        getEnv("RESEARCH_LOG_FILE_PATH", "logs/research-sync.log"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Auth: AuthConfig{
			JwtSecret: getEnv("JWT_SECRET", ""),
		},
		Ai: AIConfig{
			LLMProvider:        getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:           getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			AnalysisDailyLimit: getEnvAsInt("ANALYSIS_DAILY_LIMIT", 20),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("1500ms") or plain seconds ("30").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
