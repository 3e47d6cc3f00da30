package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the session agent.
type Config struct {
	Environment string

	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Session  SessionConfig
	Presence PresenceConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	AuditTopic string
}

type SessionConfig struct {
	AbsoluteTimeout  time.Duration
	IdleTimeout      time.Duration
	WarningLead      time.Duration
	CheckInterval    time.Duration
	ActivityThrottle time.Duration
	// StateFile is the shared storage partition used when Redis is not
	// available. All agent processes of one user converge on this file.
	StateFile string
	Partition string
}

type PresenceConfig struct {
	URL                  string
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	HandshakeTimeout     time.Duration
}

type AuthConfig struct {
	// BaseURL overrides environment detection when set.
	BaseURL       string
	LocalURL      string
	ProductionURL string
	APIKey        string
}

type LoggingConfig struct {
	Level  string
	Format string
}

var loaded *Config

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", detectEnvironment()),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8600),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8643),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Enabled:    getEnvBool("KAFKA_ENABLED", false),
			Brokers:    splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "session-lifecycle-events"),
		},
		Session: SessionConfig{
			AbsoluteTimeout:  getEnvDuration("SESSION_ABSOLUTE_TIMEOUT", 8*time.Hour),
			IdleTimeout:      getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			WarningLead:      getEnvDuration("SESSION_WARNING_LEAD", 5*time.Minute),
			CheckInterval:    getEnvDuration("SESSION_CHECK_INTERVAL", time.Minute),
			ActivityThrottle: getEnvDuration("SESSION_ACTIVITY_THROTTLE", time.Second),
			StateFile:        getEnv("SESSION_STATE_FILE", defaultStateFile()),
			Partition:        getEnv("SESSION_PARTITION", "default"),
		},
		Presence: PresenceConfig{
			URL:                  getEnv("PRESENCE_URL", "wss://izishop-backend.onrender.com/ws/online-status"),
			HeartbeatInterval:    getEnvDuration("PRESENCE_HEARTBEAT_INTERVAL", time.Minute),
			MaxReconnectAttempts: getEnvInt("PRESENCE_MAX_RECONNECT_ATTEMPTS", 5),
			BaseReconnectDelay:   getEnvDuration("PRESENCE_BASE_RECONNECT_DELAY", time.Second),
			MaxReconnectDelay:    getEnvDuration("PRESENCE_MAX_RECONNECT_DELAY", 30*time.Second),
			HandshakeTimeout:     getEnvDuration("PRESENCE_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			BaseURL:       getEnv("AUTH_API_URL", ""),
			LocalURL:      getEnv("AUTH_API_LOCAL_URL", "http://127.0.0.1:8000"),
			ProductionURL: getEnv("AUTH_API_PRODUCTION_URL", "https://izishop-backend.onrender.com"),
			APIKey:        getEnv("AUTH_API_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	loaded = cfg
	return cfg
}

// Get returns the last loaded config, loading it on first use.
func Get() *Config {
	if loaded == nil {
		return LoadConfig()
	}
	return loaded
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ResolveAuthBaseURL picks the auth API endpoint. An explicit override wins;
// otherwise local-dev environments map to the local endpoint and everything
// else to production.
func (c *Config) ResolveAuthBaseURL() string {
	if c.Auth.BaseURL != "" {
		return c.Auth.BaseURL
	}
	if c.IsDevelopment() {
		return c.Auth.LocalURL
	}
	return c.Auth.ProductionURL
}

// detectEnvironment classifies the host the agent runs on when APP_ENV is not
// set. Local hostnames and loopback addresses mean development; anything
// unknown defaults to production.
func detectEnvironment() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "production"
	}
	lower := strings.ToLower(hostname)
	switch {
	case lower == "localhost", lower == "127.0.0.1",
		strings.HasSuffix(lower, ".local"),
		strings.HasPrefix(lower, "dev-"),
		strings.Contains(lower, "staging"):
		return "development"
	}
	return "production"
}

func defaultStateFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + "session-service" + string(os.PathSeparator) + "session-state.json"
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
