// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Session   SessionConfig   `koanf:"session"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
	Gemini    GeminiConfig    `koanf:"gemini"`
	Seed      SeedConfig      `koanf:"seed"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	BaseURL         string        `koanf:"base_url"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// RedisConfig はセッションストアとしてのRedis設定。
// URLが空の場合はPostgreSQLのsessionsテーブルを使用する。
type RedisConfig struct {
	URL      string `koanf:"url"`
	PoolSize int    `koanf:"pool_size"`
}

type SessionConfig struct {
	MaxAge       time.Duration `koanf:"max_age"`
	CookieDomain string        `koanf:"cookie_domain"`
	// BcryptCost が0の場合はbcrypt.DefaultCostを使う。
	BcryptCost int `koanf:"bcrypt_cost"`
}

// RateLimitConfig は1分あたりの許容リクエスト数。
type RateLimitConfig struct {
	General int `koanf:"general"`
	Chat    int `koanf:"chat"`
}

// CORSConfig のAllowedOriginsは環境変数ではカンマ区切りで指定する。
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type OtelConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// GeminiConfig は会話ゲートウェイが呼び出すLLMの設定。
// APIKeyが空の場合、会話は常にフォールバック応答になる。
type GeminiConfig struct {
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Endpoint    string        `koanf:"endpoint"`
	Timeout     time.Duration `koanf:"timeout"`
	Temperature float64       `koanf:"temperature"`
}

// SeedConfig はseedサブコマンドが読み込むフィクスチャの設定。
type SeedConfig struct {
	File string `koanf:"file"`
}

// CookieSecure はBaseURLがhttpsの場合にtrueを返す。
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}

// Load は設定を読み込む。
// 優先順位は デフォルト値 < YAMLファイル < 環境変数。
// カレントディレクトリに.envが存在する場合は環境変数より先に読み込む。
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"server.port":             "8080",
		"server.base_url":         "http://localhost:8080",
		"server.read_timeout":     "15s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "60s",
		"server.shutdown_timeout": "30s",

		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "1h",

		"redis.pool_size": 10,

		"session.max_age": "24h",

		"rate_limit.general": 120,
		"rate_limit.chat":    20,

		"cors.allowed_origins": []string{"http://localhost:3000"},

		"log.level": "info",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "companionhub",

		"gemini.model":       "gemini-3-flash-preview",
		"gemini.endpoint":    "https://generativelanguage.googleapis.com/v1beta",
		"gemini.timeout":     "20s",
		"gemini.temperature": 0.7,
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                "database.url",
	"DB_MAX_OPEN_CONNS":           "database.max_open_conns",
	"DB_MAX_IDLE_CONNS":           "database.max_idle_conns",
	"REDIS_URL":                   "redis.url",
	"SERVER_PORT":                 "server.port",
	"BASE_URL":                    "server.base_url",
	"SHUTDOWN_TIMEOUT":            "server.shutdown_timeout",
	"SESSION_MAX_AGE":             "session.max_age",
	"BCRYPT_COST":                 "session.bcrypt_cost",
	"COOKIE_DOMAIN":               "session.cookie_domain",
	"RATE_LIMIT_GENERAL":          "rate_limit.general",
	"RATE_LIMIT_CHAT":             "rate_limit.chat",
	"CORS_ALLOWED_ORIGINS":        "cors.allowed_origins",
	"LOG_LEVEL":                   "log.level",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
	"GEMINI_API_KEY":              "gemini.api_key",
	"GEMINI_MODEL":                "gemini.model",
	"GEMINI_ENDPOINT":             "gemini.endpoint",
	"GEMINI_TIMEOUT":              "gemini.timeout",
	"GEMINI_TEMPERATURE":          "gemini.temperature",
	"SEED_FILE":                   "seed.file",
}

// listKeys はカンマ区切りで複数値を受け付けるキー。
var listKeys = map[string]bool{
	"cors.allowed_origins": true,
}

// envValue は既知の環境変数だけを設定キーへ写像する。未知の変数は空キーで読み飛ばされる。
func envValue(name, value string) (string, any) {
	key := envKeyMap[name]
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			items = append(items, v)
		}
	}
	return key, items
}

func validate(c *Config) error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Server.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required settings are not set: %v", missing)
	}

	if c.RateLimit.General <= 0 || c.RateLimit.Chat <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session max age must be positive")
	}
	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 2 {
		return fmt.Errorf("gemini temperature must be within [0, 2], got %v", c.Gemini.Temperature)
	}
	if c.Otel.Enabled && c.Otel.Endpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when otel is enabled")
	}
	return nil
}
