package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "EVITARE"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultSiteOrigin       = "http://localhost:8080"
	defaultDatabaseDriver   = DriverSQLite
	defaultDatabasePath     = "evitare.db"
	defaultLogLevel         = "info"
	defaultCookieName       = "evitare_session"
	defaultSessionTTL       = 720
	defaultStorageBackend   = StorageLocal
	defaultStorageLocalDir  = "uploads"
	defaultStorageBucket    = "site-assets"
	defaultRasterizerBinary = "pdftoppm"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported object storage backends.
const (
	StorageLocal    = "local"
	StorageSupabase = "supabase"
)

// AppConfig captures runtime configuration for the site server.
type AppConfig struct {
	HTTPAddress     string
	SiteOrigin      string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	LogLevel        string
	SigningSecret   string
	CookieName      string
	SessionTTL      time.Duration
	StorageBackend  string
	StorageLocalDir string
	StorageBucket   string
	SupabaseURL     string
	SupabaseKey     string
	RasterizerPath  string
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("site.origin", defaultSiteOrigin)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.session_ttl_minutes", defaultSessionTTL)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.local_dir", defaultStorageLocalDir)
	configViper.SetDefault("storage.bucket", defaultStorageBucket)
	configViper.SetDefault("supabase.url", "")
	configViper.SetDefault("supabase.key", "")
	configViper.SetDefault("annotate.rasterizer", defaultRasterizerBinary)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		SiteOrigin:      strings.TrimRight(strings.TrimSpace(configViper.GetString("site.origin")), "/"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		CookieName:      configViper.GetString("auth.cookie_name"),
		SessionTTL:      time.Duration(configViper.GetInt("auth.session_ttl_minutes")) * time.Minute,
		StorageBackend:  strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		StorageLocalDir: configViper.GetString("storage.local_dir"),
		StorageBucket:   configViper.GetString("storage.bucket"),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(configViper.GetString("supabase.url")), "/"),
		SupabaseKey:     strings.TrimSpace(configViper.GetString("supabase.key")),
		RasterizerPath:  configViper.GetString("annotate.rasterizer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl_minutes must be positive")
	}
	origin, err := url.Parse(c.SiteOrigin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("site.origin must be an absolute URL, got %q", c.SiteOrigin)
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.StorageBackend {
	case StorageLocal:
		if strings.TrimSpace(c.StorageLocalDir) == "" {
			return fmt.Errorf("storage.local_dir is required")
		}
	case StorageSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("supabase.url is required for the supabase storage backend")
		}
		if c.SupabaseKey == "" {
			return fmt.Errorf("supabase.key is required for the supabase storage backend")
		}
		if strings.TrimSpace(c.StorageBucket) == "" {
			return fmt.Errorf("storage.bucket is required")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.StorageBackend)
	}
	return nil
}
