package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Bot Classification Engine - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Reputation ReputationConfig `yaml:"reputation"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Detection  DetectionConfig  `yaml:"detection"`
	Learning   LearningConfig   `yaml:"learning"`
	AdminAPI   AdminAPIConfig   `yaml:"admin_api"`
	RateLimit  RateLimitSettings `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// ReputationConfig selects and tunes the Pattern Reputation Engine backend.
type ReputationConfig struct {
	Backend string `yaml:"backend"` // "memory", "redis", "spanner", "postgres"

	Alpha      float64 `yaml:"alpha"`
	Prior      float64 `yaml:"prior"`
	MaxSupport float64 `yaml:"max_support"`
	TauScoreHours   float64 `yaml:"tau_score_hours"`
	TauSupportHours float64 `yaml:"tau_support_hours"`

	PromoteSuspectScore   float64 `yaml:"promote_suspect_score"`
	PromoteSuspectSupport float64 `yaml:"promote_suspect_support"`
	PromoteBadScore       float64 `yaml:"promote_bad_score"`
	PromoteBadSupport     float64 `yaml:"promote_bad_support"`
	DemoteBadScore        float64 `yaml:"demote_bad_score"`
	DemoteBadSupport      float64 `yaml:"demote_bad_support"`

	GCEligibleDays float64 `yaml:"gc_eligible_days"`
	GCMinSupport   float64 `yaml:"gc_min_support"`
	GCIntervalMin  int     `yaml:"gc_interval_minutes"`

	Redis    RedisConfig    `yaml:"redis"`
	Spanner  SpannerConfig  `yaml:"spanner"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SpannerConfig struct {
	ProjectID  string `yaml:"project_id"`
	InstanceID string `yaml:"instance_id"`
	DatabaseID string `yaml:"database_id"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// AggregatorConfig tunes the Evidence Aggregator's weighting constants.
type AggregatorConfig struct {
	ReferenceWeight   float64 `yaml:"reference_weight"`
	ElevatedThreshold float64 `yaml:"elevated_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	VeryHighThreshold float64 `yaml:"very_high_threshold"`
}

// DetectionConfig tunes the orchestrator (parallelism, wall-clock budget)
// and the request-path wiring (policy file, datacenter CIDR list, info
// headers, test mode). The behavioral and version-age detectors take no
// settings from it.
type DetectionConfig struct {
	MaxParallelDetectors int    `yaml:"max_parallel_detectors"`
	WallClockBudgetMs    int    `yaml:"wall_clock_budget_ms"`
	PolicyPath           string `yaml:"policy_path"`
	DatacenterCIDRPath   string `yaml:"datacenter_cidr_path"`
	EnableInfoHeaders    bool   `yaml:"enable_info_headers"`
	TestModeEnabled      bool   `yaml:"test_mode_enabled"`
	TestModeHeaderName   string `yaml:"test_mode_header"`
}

// LearningConfig selects the Learning Bus backend and drift monitor knobs.
type LearningConfig struct {
	Backend         string `yaml:"backend"` // "local", "redis", "pubsub"
	RedisAddr       string `yaml:"redis_addr"`
	RedisChannel    string `yaml:"redis_channel"`
	PubSubProjectID string `yaml:"pubsub_project_id"`
	PubSubTopicID   string `yaml:"pubsub_topic_id"`

	DriftEnabled              bool    `yaml:"drift_enabled"`
	DriftRecentWindowSize     int     `yaml:"drift_recent_window_size"`
	DriftHistoricalWindowSize int     `yaml:"drift_historical_window_size"`
	DriftMinSamples           int     `yaml:"drift_min_samples"`
	DriftThreshold            float64 `yaml:"drift_threshold"`
}

// AdminAPIConfig guards the admin inspect/override/export surface.
type AdminAPIConfig struct {
	Enabled         bool   `yaml:"enabled"`
	TokenHashBase64 string `yaml:"token_hash_base64"` // bcrypt hash of the admin bearer token
}

// RateLimitSettings tunes the per-IP hard rate limiter that sits ahead of
// the orchestrator.
type RateLimitSettings struct {
	Enabled           bool `yaml:"enabled"`
	MaxCallsPerMinute int  `yaml:"max_calls_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = Defaults()
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// Defaults returns a Config with sensible default constants so the engine
// runs with no config file at all.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Env:             "development",
			ReadTimeoutSec:  5,
			WriteTimeoutSec: 5,
			IdleTimeoutSec:  60,
			ShutdownTimeout: 15,
		},
		Reputation: ReputationConfig{
			Backend:               "memory",
			Alpha:                 0.2,
			Prior:                 0.5,
			MaxSupport:            1000,
			TauScoreHours:         72,
			TauSupportHours:       24,
			PromoteSuspectScore:   0.6,
			PromoteSuspectSupport: 10,
			PromoteBadScore:       0.9,
			PromoteBadSupport:     50,
			DemoteBadScore:        0.7,
			DemoteBadSupport:      100,
			GCEligibleDays:        30,
			GCMinSupport:          1,
			GCIntervalMin:         10,
		},
		Aggregator: AggregatorConfig{
			ReferenceWeight:   3.0,
			ElevatedThreshold: 0.25,
			MediumThreshold:   0.50,
			HighThreshold:     0.75,
			VeryHighThreshold: 0.90,
		},
		Detection: DetectionConfig{
			MaxParallelDetectors: 8,
			WallClockBudgetMs:    500,
			PolicyPath:           "policies.yaml",
			TestModeEnabled:      false,
			TestModeHeaderName:   "ml-bot-test-mode",
		},
		Learning: LearningConfig{
			Backend:                   "local",
			DriftEnabled:              true,
			DriftRecentWindowSize:     200,
			DriftHistoricalWindowSize: 2000,
			DriftMinSamples:           50,
			DriftThreshold:            3.0,
		},
		RateLimit: RateLimitSettings{
			Enabled:           true,
			MaxCallsPerMinute: 600,
			BurstSize:         1200,
		},
	}
}

// LoadConfig loads config from a YAML file, overlaying it onto Defaults so
// a partial file only needs to specify what it changes.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides on top of
// whatever LoadConfig produced.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("BOTDETECT_ENV", c.Server.Env)
	c.Server.Interface = getEnv("BOTDETECT_INTERFACE", c.Server.Interface)
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Reputation.Backend = getEnv("REPUTATION_BACKEND", c.Reputation.Backend)
	c.Reputation.Redis.Addr = getEnv("REDIS_ADDR", c.Reputation.Redis.Addr)
	c.Reputation.Spanner.ProjectID = getEnv("SPANNER_PROJECT_ID", c.Reputation.Spanner.ProjectID)
	c.Reputation.Spanner.InstanceID = getEnv("SPANNER_INSTANCE_ID", c.Reputation.Spanner.InstanceID)
	c.Reputation.Spanner.DatabaseID = getEnv("SPANNER_DATABASE_ID", c.Reputation.Spanner.DatabaseID)
	c.Reputation.Postgres.DSN = getEnv("REPUTATION_POSTGRES_DSN", c.Reputation.Postgres.DSN)

	if v := getEnvFloat("REPUTATION_ALPHA", 0); v > 0 {
		c.Reputation.Alpha = v
	}

	c.Learning.Backend = getEnv("LEARNING_BUS_BACKEND", c.Learning.Backend)
	c.Learning.RedisAddr = getEnv("LEARNING_BUS_REDIS_ADDR", c.Learning.RedisAddr)
	c.Learning.PubSubProjectID = getEnv("LEARNING_BUS_PUBSUB_PROJECT_ID", c.Learning.PubSubProjectID)
	c.Learning.PubSubTopicID = getEnv("LEARNING_BUS_PUBSUB_TOPIC_ID", c.Learning.PubSubTopicID)

	c.Detection.TestModeEnabled = getEnvBool("BOTDETECT_TEST_MODE", c.Detection.TestModeEnabled)
	c.Detection.TestModeHeaderName = getEnv("BOTDETECT_TEST_MODE_HEADER", c.Detection.TestModeHeaderName)
	c.Detection.EnableInfoHeaders = getEnvBool("BOTDETECT_INFO_HEADERS", c.Detection.EnableInfoHeaders)
	if v := getEnvInt("DETECTION_WALL_CLOCK_BUDGET_MS", 0); v > 0 {
		c.Detection.WallClockBudgetMs = v
	}

	c.AdminAPI.Enabled = getEnvBool("ADMIN_API_ENABLED", c.AdminAPI.Enabled)
	c.AdminAPI.TokenHashBase64 = getEnv("ADMIN_API_TOKEN_HASH", c.AdminAPI.TokenHashBase64)

	c.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	if v := getEnvInt("RATE_LIMIT_MAX_CALLS_PER_MINUTE", 0); v > 0 {
		c.RateLimit.MaxCallsPerMinute = v
	}
	if v := getEnvInt("RATE_LIMIT_BURST_SIZE", 0); v > 0 {
		c.RateLimit.BurstSize = v
	}

	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
