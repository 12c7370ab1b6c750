package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

// ProviderCredentials holds the out-of-band client identifier/secret
// for one external provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	MigrationsPath       string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	EncryptionKeys       string
	StateTTL             time.Duration
	RefreshMargin        time.Duration
	RefreshSweepSpec     string
	ProviderTimeout      time.Duration
	RevokeTimeout        time.Duration
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
	Providers            map[domain.Provider]ProviderCredentials
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		MigrationsPath:       getEnv("MIGRATIONS_PATH", "db/migrations"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		EncryptionKeys:       strings.TrimSpace(os.Getenv("ENCRYPTION_KEYS")),
		StateTTL:             getDuration("STATE_TTL", 10*time.Minute),
		RefreshMargin:        getDuration("REFRESH_MARGIN", 5*time.Minute),
		RefreshSweepSpec:     getEnv("REFRESH_SWEEP_SPEC", "@every 1m"),
		ProviderTimeout:      getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		RevokeTimeout:        getDuration("REVOKE_TIMEOUT", 5*time.Second),
		ServiceName:          getEnv("SERVICE_NAME", "valora-integrations"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
		Providers:            loadProviderCredentials(),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EncryptionKeys == "" {
		return Config{}, fmt.Errorf("ENCRYPTION_KEYS is required")
	}
	if len(cfg.Providers) == 0 {
		return Config{}, fmt.Errorf("at least one provider must be configured (e.g. GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET)")
	}
	if cfg.StateTTL < time.Minute {
		cfg.StateTTL = time.Minute
	}

	return cfg, nil
}

// loadProviderCredentials picks up <PROVIDER>_CLIENT_ID/_CLIENT_SECRET
// pairs for every known provider tag. Providers without credentials are
// simply absent from the registry.
func loadProviderCredentials() map[domain.Provider]ProviderCredentials {
	providers := make(map[domain.Provider]ProviderCredentials)
	for _, p := range []domain.Provider{
		domain.ProviderGoogle,
		domain.ProviderMicrosoft,
		domain.ProviderZoom,
		domain.ProviderSlack,
	} {
		prefix := strings.ToUpper(string(p))
		id := strings.TrimSpace(os.Getenv(prefix + "_CLIENT_ID"))
		secret := strings.TrimSpace(os.Getenv(prefix + "_CLIENT_SECRET"))
		if id == "" || secret == "" {
			continue
		}
		providers[p] = ProviderCredentials{ClientID: id, ClientSecret: secret}
	}
	return providers
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
