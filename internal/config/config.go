package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Insecure default values that must never reach production.
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"internal-service-secret":              true,
	"":                                     true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Runtime        RuntimeConfig
	Services       ServicesConfig
	Window         WindowConfig
	Sync           SyncConfig
	Quota          QuotaConfig
	NATS           NATSConfig
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

// RuntimeConfig points at the process runtime that actually boots and
// halts instance workloads.
type RuntimeConfig struct {
	ServiceURL string
	APIKey     string
}

type ServicesConfig struct {
	AuthServiceURL string
}

// WindowConfig is the daily access window during which start commands
// are permitted. Hours are in the configured timezone, half-open
// [StartHour, EndHour).
type WindowConfig struct {
	StartHour int
	EndHour   int
	Timezone  string
}

type SyncConfig struct {
	Interval         time.Duration
	TransientTimeout time.Duration
}

type QuotaConfig struct {
	MaxInstancesPerOwner int
}

type NATSConfig struct {
	URL string
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8006"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "hostpanel_user"),
			Password: getEnv("DB_PASSWORD", "hostpanel_pass"),
			DBName:   getEnv("DB_NAME", "hostpanel_db"),
			Schema:   getEnv("DB_SCHEMA", "hostpanel"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Runtime: RuntimeConfig{
			ServiceURL: getEnv("RUNTIME_SERVICE_URL", "http://localhost:8020"),
			APIKey:     getEnv("RUNTIME_API_KEY", ""),
		},
		Services: ServicesConfig{
			AuthServiceURL: getEnv("AUTH_SERVICE_URL", "http://localhost:8001"),
		},
		Window: WindowConfig{
			StartHour: getEnvInt("ACCESS_WINDOW_START_HOUR", 18),
			EndHour:   getEnvInt("ACCESS_WINDOW_END_HOUR", 22),
			Timezone:  getEnv("ACCESS_WINDOW_TIMEZONE", "UTC"),
		},
		Sync: SyncConfig{
			Interval:         getEnvDuration("SYNC_INTERVAL", 15*time.Second),
			TransientTimeout: getEnvDuration("SYNC_TRANSIENT_TIMEOUT", 120*time.Second),
		},
		Quota: QuotaConfig{
			MaxInstancesPerOwner: getEnvInt("MAX_INSTANCES_PER_OWNER", 5),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// Do not log secrets.
	log.Printf("[config] Instance Service loaded: port=%s db=%s/%s.%s runtime=%s window=%02d:00-%02d:00 (%s)",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		cfg.Runtime.ServiceURL, cfg.Window.StartHour, cfg.Window.EndHour, cfg.Window.Timezone)

	return cfg
}

// Validate checks that secrets are set and the window and synchronizer
// configuration is coherent. Must pass before the service starts serving.
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	if c.Window.StartHour < 0 || c.Window.StartHour > 23 {
		return fmt.Errorf("ACCESS_WINDOW_START_HOUR must be in [0, 23], got %d", c.Window.StartHour)
	}
	if c.Window.EndHour < 0 || c.Window.EndHour > 23 {
		return fmt.Errorf("ACCESS_WINDOW_END_HOUR must be in [0, 23], got %d", c.Window.EndHour)
	}
	if _, err := c.Window.Location(); err != nil {
		return fmt.Errorf("ACCESS_WINDOW_TIMEZONE is not a valid IANA timezone: %w", err)
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %v", c.Sync.Interval)
	}
	if c.Sync.TransientTimeout <= 0 {
		return fmt.Errorf("SYNC_TRANSIENT_TIMEOUT must be positive, got %v", c.Sync.TransientTimeout)
	}
	if c.Quota.MaxInstancesPerOwner <= 0 {
		return fmt.Errorf("MAX_INSTANCES_PER_OWNER must be positive, got %d", c.Quota.MaxInstancesPerOwner)
	}

	return nil
}

// Location resolves the window timezone.
func (w *WindowConfig) Location() (*time.Location, error) {
	return time.LoadLocation(w.Timezone)
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
