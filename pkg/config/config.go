package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/course-api/pkg/duration"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	Token        TokenConfig
	RateLimit    RateLimitConfig
	Housekeeping HousekeepingConfig
	Audit        AuditConfig
	Bootstrap    BootstrapConfig
	CORS         CORSConfig
	Log          LogConfig

	// loadProblems holds values Load could not parse; Validate reports them.
	loadProblems []string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TokenConfig holds the signing material and lifetimes for issued tokens.
// None of the secret or lifetime fields have defaults.
type TokenConfig struct {
	AccessSecret     string
	RefreshSecret    string
	AccessExpiry     string
	RefreshExpiry    string
	DevAccessExpiry  string
	Issuer           string
	Audience         string
	Leeway           time.Duration
	RevokeOnReuse    bool
	SharedBlacklist  bool
	BlacklistKeyBase string
}

// EffectiveAccessExpiry returns the access lifetime string for the given environment.
// The relaxed development override only applies outside production.
func (t TokenConfig) EffectiveAccessExpiry(env string) string {
	if env == EnvDevelopment && t.DevAccessExpiry != "" {
		return t.DevAccessExpiry
	}
	return t.AccessExpiry
}

// RateLimitConfig throttles the credential and refresh endpoints per client.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	Burst    int
}

// HousekeepingConfig controls the expired refresh record cleanup.
type HousekeepingConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
}

// AuditConfig sizes the background audit writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

// BootstrapConfig seeds an administrator on startup when both fields are set.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ValidationError lists every problem found in the configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Token = TokenConfig{
		AccessSecret:     strings.TrimSpace(v.GetString("ACCESS_TOKEN_SECRET")),
		RefreshSecret:    strings.TrimSpace(v.GetString("REFRESH_TOKEN_SECRET")),
		AccessExpiry:     strings.TrimSpace(v.GetString("ACCESS_TOKEN_EXPIRY")),
		RefreshExpiry:    strings.TrimSpace(v.GetString("REFRESH_TOKEN_EXPIRY")),
		DevAccessExpiry:  strings.TrimSpace(v.GetString("DEV_ACCESS_TOKEN_EXPIRY")),
		Issuer:           strings.TrimSpace(v.GetString("TOKEN_ISSUER")),
		Audience:         strings.TrimSpace(v.GetString("TOKEN_AUDIENCE")),
		RevokeOnReuse:    v.GetBool("TOKEN_REVOKE_FAMILY_ON_REUSE"),
		SharedBlacklist:  v.GetBool("SHARED_BLACKLIST_ENABLED"),
		BlacklistKeyBase: v.GetString("BLACKLIST_KEY_PREFIX"),
	}
	if raw := strings.TrimSpace(v.GetString("TOKEN_LEEWAY")); raw != "" {
		leeway, err := time.ParseDuration(raw)
		if err != nil {
			cfg.loadProblems = append(cfg.loadProblems, fmt.Sprintf("TOKEN_LEEWAY: %v", err))
		}
		cfg.Token.Leeway = leeway
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:  v.GetBool("AUTH_RATE_LIMIT_ENABLED"),
		Requests: v.GetInt("AUTH_RATE_LIMIT_REQUESTS"),
		Window:   parseDuration(v.GetString("AUTH_RATE_LIMIT_WINDOW"), time.Minute),
		Burst:    v.GetInt("AUTH_RATE_LIMIT_BURST"),
	}

	cfg.Housekeeping = HousekeepingConfig{
		Enabled:   v.GetBool("HOUSEKEEPING_ENABLED"),
		Interval:  parseDuration(v.GetString("HOUSEKEEPING_INTERVAL"), time.Hour),
		Retention: parseDuration(v.GetString("HOUSEKEEPING_RETENTION"), 24*time.Hour),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
		MaxRetries: v.GetInt("AUDIT_MAX_RETRIES"),
	}

	cfg.Bootstrap = BootstrapConfig{
		AdminEmail:    strings.ToLower(strings.TrimSpace(v.GetString("BOOTSTRAP_ADMIN_EMAIL"))),
		AdminPassword: v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports missing or inconsistent token settings. A failure here must stop the process.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.loadProblems...)
	required := []struct{ key, value string }{
		{"ACCESS_TOKEN_SECRET", c.Token.AccessSecret},
		{"REFRESH_TOKEN_SECRET", c.Token.RefreshSecret},
		{"ACCESS_TOKEN_EXPIRY", c.Token.AccessExpiry},
		{"REFRESH_TOKEN_EXPIRY", c.Token.RefreshExpiry},
		{"TOKEN_ISSUER", c.Token.Issuer},
		{"TOKEN_AUDIENCE", c.Token.Audience},
	}
	for _, r := range required {
		if r.value == "" {
			problems = append(problems, r.key+" is required")
		}
	}

	if c.Token.AccessSecret != "" && c.Token.AccessSecret == c.Token.RefreshSecret {
		problems = append(problems, "ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	expiries := []struct{ key, value string }{
		{"ACCESS_TOKEN_EXPIRY", c.Token.AccessExpiry},
		{"REFRESH_TOKEN_EXPIRY", c.Token.RefreshExpiry},
		{"DEV_ACCESS_TOKEN_EXPIRY", c.Token.DevAccessExpiry},
	}
	for _, e := range expiries {
		if e.value == "" {
			continue
		}
		if _, err := duration.Parse(e.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", e.key, err))
		}
	}

	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		problems = append(problems, "BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		problems = append(problems, "TOKEN_LEEWAY must be between 0 and 2m")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Relaxed settings such as DEV_ACCESS_TOKEN_EXPIRY need an explicit ENV=development.
	v.SetDefault("ENV", EnvProduction)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "course_platform")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("TOKEN_LEEWAY", "0s")
	v.SetDefault("TOKEN_REVOKE_FAMILY_ON_REUSE", false)
	v.SetDefault("SHARED_BLACKLIST_ENABLED", false)
	v.SetDefault("BLACKLIST_KEY_PREFIX", "auth:blacklist:")

	v.SetDefault("AUTH_RATE_LIMIT_ENABLED", true)
	v.SetDefault("AUTH_RATE_LIMIT_REQUESTS", 10)
	v.SetDefault("AUTH_RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("AUTH_RATE_LIMIT_BURST", 10)

	v.SetDefault("HOUSEKEEPING_ENABLED", true)
	v.SetDefault("HOUSEKEEPING_INTERVAL", "1h")
	v.SetDefault("HOUSEKEEPING_RETENTION", "24h")

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)
	v.SetDefault("AUDIT_MAX_RETRIES", 3)

	v.SetDefault("BOOTSTRAP_ADMIN_EMAIL", "")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
