package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultTranlogTopic   = "topic-tranlog"
	defaultCashlogTopic   = "topic-cashlog"
	defaultOpenCloseTopic = "topic-opencloselog"

	defaultServiceTokenTTL = 5 * time.Minute

	defaultUndeliveredCheckInterval = 5 * time.Minute
	defaultUndeliveredFailedPeriod  = 60 * time.Minute
	defaultUndeliveredLookback      = 24 * time.Hour
	defaultSweepInterval            = time.Minute

	defaultMasterCacheTTL   = 5 * time.Minute
	defaultTerminalCacheTTL = 30 * time.Second

	defaultBreakerFailureThreshold = 5
	defaultBreakerCooldown         = 30 * time.Second

	defaultSnapshotRetentionDays = 30
	minSnapshotRetentionDays     = 1
	maxSnapshotRetentionDays     = 365
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Auth      AuthConfig
	Delivery  DeliveryConfig
	Cache     CacheConfig
	Breaker   BreakerConfig
	Snapshot  SnapshotConfig
	Peers     PeerConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores document database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the broker project and the event topics.
type PubSubConfig struct {
	ProjectID      string
	TranlogTopic   string
	CashlogTopic   string
	OpenCloseTopic string
	EmulatorHost   string
}

// AuthConfig groups token verification settings.
type AuthConfig struct {
	TokenSecret        string
	ServiceTokenSecret string
	ServiceTokenTTL    time.Duration
	ServiceName        string
}

// DeliveryConfig controls the republish sweep windows of the delivery tracker.
type DeliveryConfig struct {
	CheckInterval time.Duration
	FailedPeriod  time.Duration
	Lookback      time.Duration
	SweepInterval time.Duration
}

// CacheConfig sets the TTLs of the in-memory master data and terminal caches.
type CacheConfig struct {
	MasterTTL   time.Duration
	TerminalTTL time.Duration
}

// BreakerConfig tunes the circuit breaker guarding the broker publisher.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// SnapshotConfig carries the stock snapshot schedule defaults.
type SnapshotConfig struct {
	RetentionDays    int
	MinRetentionDays int
	MaxRetentionDays int
}

// PeerConfig lists the base URLs of sibling core services.
type PeerConfig struct {
	TerminalServiceURL string
	CartServiceURL     string
	JournalServiceURL  string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load reads the configuration from the environment. defaultPort is the
// listen port the calling service falls back to when POS_SERVER_PORT is unset.
func Load(defaultPort string) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:         envString("POS_SERVER_PORT", defaultPort),
			ReadTimeout:  envDuration("POS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: envDuration("POS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  envDuration("POS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    envString("POS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: envString("FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:      envString("POS_PUBSUB_PROJECT_ID", ""),
			TranlogTopic:   envString("POS_PUBSUB_TRANLOG_TOPIC", defaultTranlogTopic),
			CashlogTopic:   envString("POS_PUBSUB_CASHLOG_TOPIC", defaultCashlogTopic),
			OpenCloseTopic: envString("POS_PUBSUB_OPENCLOSE_TOPIC", defaultOpenCloseTopic),
			EmulatorHost:   envString("PUBSUB_EMULATOR_HOST", ""),
		},
		Auth: AuthConfig{
			TokenSecret:        envString("POS_AUTH_TOKEN_SECRET", ""),
			ServiceTokenSecret: envString("POS_AUTH_SERVICE_TOKEN_SECRET", ""),
			ServiceTokenTTL:    envDuration("POS_AUTH_SERVICE_TOKEN_TTL", defaultServiceTokenTTL),
			ServiceName:        envString("POS_SERVICE_NAME", ""),
		},
		Delivery: DeliveryConfig{
			CheckInterval: time.Duration(envInt("UNDELIVERED_CHECK_INTERVAL_IN_MINUTES", int(defaultUndeliveredCheckInterval/time.Minute))) * time.Minute,
			FailedPeriod:  time.Duration(envInt("UNDELIVERED_CHECK_FAILED_PERIOD_IN_MINUTES", int(defaultUndeliveredFailedPeriod/time.Minute))) * time.Minute,
			Lookback:      time.Duration(envInt("UNDELIVERED_CHECK_PERIOD_IN_HOURS", int(defaultUndeliveredLookback/time.Hour))) * time.Hour,
			SweepInterval: envDuration("POS_DELIVERY_SWEEP_INTERVAL", defaultSweepInterval),
		},
		Cache: CacheConfig{
			MasterTTL:   envDuration("POS_MASTER_CACHE_TTL", defaultMasterCacheTTL),
			TerminalTTL: envDuration("POS_TERMINAL_CACHE_TTL", defaultTerminalCacheTTL),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("POS_BREAKER_FAILURE_THRESHOLD", defaultBreakerFailureThreshold),
			Cooldown:         envDuration("POS_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
		Snapshot: SnapshotConfig{
			RetentionDays:    envInt("DEFAULT_SNAPSHOT_RETENTION_DAYS", defaultSnapshotRetentionDays),
			MinRetentionDays: envInt("MIN_SNAPSHOT_RETENTION_DAYS", minSnapshotRetentionDays),
			MaxRetentionDays: envInt("MAX_SNAPSHOT_RETENTION_DAYS", maxSnapshotRetentionDays),
		},
		Peers: PeerConfig{
			TerminalServiceURL: envString("POS_TERMINAL_SERVICE_URL", "http://localhost:8001"),
			CartServiceURL:     envString("POS_CART_SERVICE_URL", "http://localhost:8003"),
			JournalServiceURL:  envString("POS_JOURNAL_SERVICE_URL", "http://localhost:8005"),
		},
	}

	var missing []string
	if strings.TrimSpace(cfg.Firestore.ProjectID) == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Auth.TokenSecret) == "" {
		missing = append(missing, "Auth.TokenSecret")
	}
	if strings.TrimSpace(cfg.Auth.ServiceTokenSecret) == "" {
		missing = append(missing, "Auth.ServiceTokenSecret")
	}
	if cfg.Snapshot.RetentionDays < cfg.Snapshot.MinRetentionDays || cfg.Snapshot.RetentionDays > cfg.Snapshot.MaxRetentionDays {
		missing = append(missing, "Snapshot.RetentionDays")
	}
	if len(missing) > 0 {
		return Config{}, &ValidationError{fields: missing}
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
