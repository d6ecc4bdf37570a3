package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Collection modes.
const (
	CollectionRaw       = "raw"
	CollectionAggregate = "aggregate"
	CollectionOff       = "off"
)

// Config holds all application configuration.
// Values come from the environment (and an optional .env file) with defaults.
type Config struct {
	// Server
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	PublicBaseURL  string        `mapstructure:"public_base_url"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	// HTTP client
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// Resilience
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`

	// Cache
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Observability
	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`

	// Access Store
	StoreDriver        string `mapstructure:"store_driver"`
	SupabaseURL        string `mapstructure:"supabase_url"`
	SupabaseAnonKey    string `mapstructure:"supabase_anon_key"`
	SupabaseServiceKey string `mapstructure:"supabase_service_role_key"`
	DatabaseURL        string `mapstructure:"database_url"`
	SQLitePath         string `mapstructure:"sqlite_path"`

	// Session
	SessionSecret string        `mapstructure:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`

	// Consent & collection
	ConsentGatedAccess bool   `mapstructure:"consent_gated_access"`
	CollectionMode     string `mapstructure:"collection_mode"`
	CollectionDir      string `mapstructure:"collection_dir"`
	StorageBucket      string `mapstructure:"supabase_storage_bucket"`

	// Usage quota
	WeeklyAnalysisLimit int    `mapstructure:"weekly_analysis_limit"`
	UsageResetCron      string `mapstructure:"usage_reset_cron"`

	// Payment & email
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
	ResendAPIKey        string `mapstructure:"resend_api_key"`
	MailFrom            string `mapstructure:"mail_from"`
}

// SetDefaults registers every key with its default so AutomaticEnv can
// bind it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("MAX_UPLOAD_BYTES", 20<<20)
	v.SetDefault("READ_TIMEOUT", "30s")
	v.SetDefault("WRITE_TIMEOUT", "60s")
	v.SetDefault("ALLOWED_ORIGINS", "*")

	v.SetDefault("HTTP_TIMEOUT", "10s")

	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("INITIAL_BACKOFF", "100ms")
	v.SetDefault("MAX_CONCURRENCY", 8)

	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	v.SetDefault("STORE_DRIVER", "")
	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_ANON_KEY", "")
	v.SetDefault("SUPABASE_SERVICE_ROLE_KEY", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "data/customers.db")

	v.SetDefault("SESSION_SECRET", "etsy-analytics-dev-secret-change-me")
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("COOKIE_SECURE", false)

	v.SetDefault("CONSENT_GATED_ACCESS", false)
	v.SetDefault("COLLECTION_MODE", CollectionRaw)
	v.SetDefault("COLLECTION_DIR", "data/collected")
	v.SetDefault("SUPABASE_STORAGE_BUCKET", "user-data")

	v.SetDefault("WEEKLY_ANALYSIS_LIMIT", 10)
	v.SetDefault("USAGE_RESET_CRON", "0 3 * * *")

	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("RESEND_API_KEY", "")
	v.SetDefault("MAIL_FROM", "Etsy Analytics Pro <support@architecte-ia.fr>")
}

// Load reads configuration from the environment with defaults.
// Call LoadDotEnv first to pick up a local .env file.
func Load() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	c.SupabaseURL = strings.TrimRight(c.SupabaseURL, "/")
	c.CollectionMode = strings.ToLower(strings.TrimSpace(c.CollectionMode))
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.StoreDriver == "" {
		switch {
		case c.SupabaseURL != "":
			c.StoreDriver = StoreSupabase
		case c.DatabaseURL != "":
			c.StoreDriver = StorePostgres
		default:
			c.StoreDriver = StoreSQLite
		}
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("config: STORE_DRIVER=supabase requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: STORE_DRIVER=postgres requires DATABASE_URL")
		}
	case StoreSQLite:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.CollectionMode {
	case CollectionRaw, CollectionAggregate, CollectionOff:
	default:
		return fmt.Errorf("config: unknown COLLECTION_MODE %q", c.CollectionMode)
	}

	if c.WeeklyAnalysisLimit < 0 {
		return fmt.Errorf("config: WEEKLY_ANALYSIS_LIMIT must be >= 0")
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	return nil
}

// UseSupabaseStorage reports whether collected data goes to Supabase
// Storage instead of the local directory.
func (c *Config) UseSupabaseStorage() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != "" && c.StorageBucket != ""
}
