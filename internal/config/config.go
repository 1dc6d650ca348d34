package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config структура конфигурации сервиса обменов
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	WSAddr   string `env:"WS_ADDR" envDefault:":8081"`

	// StoreDriver postgres или memory (для локальной разработки)
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	JWTSecret   string `env:"JWT_SECRET"`

	// CORSOrigins разрешенные источники для HTTP и WebSocket (пусто - любые)
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Trade    TradeConfig
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"PGHOST" envDefault:"localhost"`
	Port     string `env:"PGPORT" envDefault:"5432"`
	User     string `env:"PGUSER" envDefault:"cardtrade_user"`
	Password string `env:"PGPASSWORD" envDefault:"cardtrade_pass"`
	Name     string `env:"PGDATABASE" envDefault:"cardtrade"`
	SSLMode  string `env:"PGSSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"PG_MAX_CONNS" envDefault:"10"`
	MinConns int32  `env:"PG_MIN_CONNS" envDefault:"2"`
}

// RedisConfig содержит конфигурацию кэша цен
type RedisConfig struct {
	URL           string        `env:"REDIS_URL"`
	PriceCacheTTL time.Duration `env:"PRICE_CACHE_TTL" envDefault:"10m"`
}

// NATSConfig содержит конфигурацию шины событий между узлами
type NATSConfig struct {
	URL           string        `env:"NATS_URL"`
	SubjectPrefix string        `env:"NATS_SUBJECT_PREFIX" envDefault:"cardtrade"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"10"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
}

// TradeConfig параметры движка обменов
type TradeConfig struct {
	// ValueDiffThreshold максимальная допустимая относительная разница стоимости (включительно)
	ValueDiffThreshold float64 `env:"VALUE_DIFF_THRESHOLD" envDefault:"0.25"`
	// MaxRetries число повторов подтверждения при конфликте версий
	MaxRetries int `env:"TRADE_MAX_RETRIES" envDefault:"5"`
	// PendingTTL возраст, после которого ожидающий запрос не блокирует новый (0 - без срока)
	PendingTTL time.Duration `env:"PENDING_TTL" envDefault:"0s"`
}

// LoadConfig загружает переменные из .env и окружения
func LoadConfig() (*Config, error) {
	// .env не обязателен, используем переменные окружения
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("не задана обязательная переменная окружения JWT_SECRET")
	}
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return nil, fmt.Errorf("неизвестный STORE_DRIVER: %q", cfg.StoreDriver)
	}
	if cfg.Trade.ValueDiffThreshold < 0 || cfg.Trade.ValueDiffThreshold > 1 {
		return nil, fmt.Errorf("VALUE_DIFF_THRESHOLD должен быть в диапазоне [0, 1]")
	}
	if cfg.Trade.MaxRetries < 1 {
		cfg.Trade.MaxRetries = 1
	}

	return &cfg, nil
}

// DatabaseURL возвращает строку подключения: DATABASE_URL или собранную из PG* переменных
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	d := c.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// IsDevelopment сообщает, запущен ли сервис в режиме разработки
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}
