package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

type Config struct {
	ServerPort string
	JWTSecret  string
	TokenTTL   time.Duration
	Postgres   PostgresConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	Logging    LoggingConfig
	Generation GenerationConfig
	Chat       ChatConfig
	Analytics  AnalyticsConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// GenerationConfig selects and configures the reply generation backend.
type GenerationConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// ChatConfig carries the turn pipeline knobs and storage backend selection.
type ChatConfig struct {
	DailyLimit          int
	HistoryLimit        int
	CharactersDir       string
	QuotaBackend        string
	ConversationBackend string
	UserBackend         string
	TimeZone            string
}

type AnalyticsConfig struct {
	Enabled bool
	Stream  string
}

// Location resolves the configured time zone used for quota dates.
func (c ChatConfig) Location() *time.Location {
	name := strings.TrimSpace(c.TimeZone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "wwb-chat-server"),
	}

	provider := strings.ToLower(envOrDefault("GENERATION_PROVIDER", "anthropic"))

	cfg := &Config{
		ServerPort: port,
		JWTSecret:  jwtSecret,
		TokenTTL:   parseDuration(envOrDefault("TOKEN_TTL", "168h"), 7*24*time.Hour),
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "postgres"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:       envOrDefault("MONGO_DATABASE", "wwb_chat"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:        envOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          int(parseInt32(envOrDefault("REDIS_DB", "0"), 0)),
			DialTimeout: parseDuration(envOrDefault("REDIS_DIAL_TIMEOUT", "2s"), 2*time.Second),
		},
		Logging: logging,
		Generation: GenerationConfig{
			Provider:  provider,
			APIKey:    os.Getenv("GENERATION_API_KEY"),
			BaseURL:   os.Getenv("GENERATION_BASE_URL"),
			Model:     os.Getenv("GENERATION_MODEL"),
			MaxTokens: int(parseInt32(envOrDefault("GENERATION_MAX_TOKENS", "500"), 500)),
			Timeout:   parseDuration(envOrDefault("GENERATION_TIMEOUT", "30s"), 30*time.Second),
		},
		Chat: ChatConfig{
			DailyLimit:          int(parseInt32(envOrDefault("CHAT_DAILY_LIMIT", "15"), 15)),
			HistoryLimit:        int(parseInt32(envOrDefault("CHAT_HISTORY_LIMIT", "20"), 20)),
			CharactersDir:       envOrDefault("CHARACTERS_DIR", "characters"),
			QuotaBackend:        strings.ToLower(envOrDefault("QUOTA_BACKEND", BackendPostgres)),
			ConversationBackend: strings.ToLower(envOrDefault("CONVERSATION_BACKEND", BackendMongo)),
			UserBackend:         strings.ToLower(envOrDefault("USER_BACKEND", BackendPostgres)),
			TimeZone:            envOrDefault("CHAT_TIMEZONE", "UTC"),
		},
		Analytics: AnalyticsConfig{
			Enabled: parseBool(envOrDefault("ANALYTICS_ENABLED", "true"), true),
			Stream:  envOrDefault("ANALYTICS_STREAM", "chat:events"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects backend names the server does not know how to wire.
func (c *Config) Validate() error {
	var problems []string

	switch c.Chat.QuotaBackend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		problems = append(problems, "QUOTA_BACKEND="+c.Chat.QuotaBackend)
	}

	switch c.Chat.ConversationBackend {
	case BackendMemory, BackendPostgres, BackendMongo:
	default:
		problems = append(problems, "CONVERSATION_BACKEND="+c.Chat.ConversationBackend)
	}

	switch c.Chat.UserBackend {
	case BackendMemory, BackendPostgres:
	default:
		problems = append(problems, "USER_BACKEND="+c.Chat.UserBackend)
	}

	switch c.Generation.Provider {
	case "anthropic", "openai", "gemini":
	default:
		problems = append(problems, "GENERATION_PROVIDER="+c.Generation.Provider)
	}

	if c.Chat.DailyLimit <= 0 {
		problems = append(problems, "CHAT_DAILY_LIMIT must be positive")
	}
	if c.Chat.HistoryLimit <= 0 {
		problems = append(problems, "CHAT_HISTORY_LIMIT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid settings: %s", strings.Join(problems, ", "))
	}
	return nil
}

// UsesPostgres reports whether any store is backed by Postgres.
func (c *Config) UsesPostgres() bool {
	return c.Chat.QuotaBackend == BackendPostgres ||
		c.Chat.ConversationBackend == BackendPostgres ||
		c.Chat.UserBackend == BackendPostgres
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
