package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverRedis  = "redis"

	PaymentBackendFake   = "fake"
	PaymentBackendStripe = "stripe"

	MailingListFake      = "fake"
	MailingListMailchimp = "mailchimp"
)

// Config is built once at startup and handed to every constructor that needs it.
type Config struct {
	AppEnv  string `validate:"oneof=dev test prod"`
	AppHost string `validate:"required"`
	AppPort string `validate:"required,numeric"`

	DBDriver   string `validate:"oneof=mysql sqlite memory"`
	DBHost     string `validate:"required_if=DBDriver mysql"`
	DBPort     string `validate:"required_if=DBDriver mysql"`
	DBUser     string
	DBPassword string
	DBName     string `validate:"required_if=DBDriver mysql"`
	DBPath     string `validate:"required_if=DBDriver sqlite"`

	CacheDriver   string `validate:"oneof=redis memory"`
	CacheHost     string `validate:"required_if=CacheDriver redis"`
	CachePort     int    `validate:"gte=0,lte=65535"`
	CachePassword string
	CacheDB       int `validate:"gte=0,lte=14"`

	ShardCount       int           `validate:"gte=1,lte=1000"`
	CacheTTL         time.Duration `validate:"gt=0"`
	TxMaxRetries     int           `validate:"gte=0"`
	TotalCounterName string        `validate:"required"`
	TotalAddends     []int64

	AdminUser         string
	AdminPasswordHash string

	JobQueueWorkers   int `validate:"gte=1"`
	BackfillBatchSize int `validate:"gte=1"`
	BackfillInterval  time.Duration
	RateLimitMax      int `validate:"gte=0"`

	PublicURL        string `validate:"required,url"`
	PaymentBackend   string `validate:"oneof=fake stripe"`
	StripeSecretKey  string `validate:"required_if=PaymentBackend stripe"`
	StripeAPIBaseURL string `validate:"required,url"`

	MailingListBackend string `validate:"oneof=fake mailchimp"`
	MailchimpAPIKey    string `validate:"required_if=MailingListBackend mailchimp"`
	MailchimpListID    string `validate:"required_if=MailingListBackend mailchimp"`
	MailchimpBaseURL   string
}

// source resolves keys from the loaded .env map first and the OS environment second.
type source map[string]string

func (s source) get(key, def string) string {
	if val, ok := s[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func (s source) getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(s.get(key, ""))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// Load reads the first readable .env file of the given candidates (none is fine) and builds a
// validated Config. OS environment variables fill keys the file does not set.
func Load(envFiles ...string) (*Config, error) {
	src := source{}
	for _, f := range envFiles {
		if m, err := godotenv.Read(f); err == nil {
			src = m
			break
		}
	}
	return fromSource(src)
}

func fromSource(src source) (*Config, error) {
	cfg := &Config{
		AppEnv:            src.get("APP_ENV", "prod"),
		AppHost:           src.get("APP_HOST", "localhost"),
		AppPort:           src.get("APP_PORT", "4000"),
		DBDriver:          src.get("DB_DRIVER", DriverMySQL),
		DBHost:            src.get("DB_HOST", "127.0.0.1"),
		DBPort:            src.get("DB_PORT", "3306"),
		DBUser:            src.get("DB_USER", ""),
		DBPassword:        src.get("DB_PASSWORD", ""),
		DBName:            src.get("DB_NAME", ""),
		DBPath:            src.get("DB_PATH", "pledges.db"),
		CacheDriver:       src.get("CACHE_DRIVER", DriverRedis),
		CacheHost:         src.get("CACHE_HOST", "localhost"),
		CachePassword:     src.get("CACHE_PASSWORD", ""),
		TotalCounterName:  src.get("TOTAL_COUNTER_NAME", "TOTAL"),
		AdminUser:         src.get("ADMIN_USER", "admin"),
		AdminPasswordHash: src.get("ADMIN_PASSWORD_HASH", ""),
		PublicURL:          src.get("PUBLIC_URL", "http://localhost:4000"),
		PaymentBackend:     src.get("PAYMENT_BACKEND", PaymentBackendFake),
		StripeSecretKey:    src.get("STRIPE_SECRET_KEY", ""),
		StripeAPIBaseURL:   src.get("STRIPE_API_BASE_URL", "https://api.stripe.com/v1"),
		MailingListBackend: src.get("MAILING_LIST_BACKEND", MailingListFake),
		MailchimpAPIKey:    src.get("MAILCHIMP_API_KEY", ""),
		MailchimpListID:    src.get("MAILCHIMP_LIST_ID", ""),
		MailchimpBaseURL:   src.get("MAILCHIMP_BASE_URL", ""),
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"CACHE_PORT", 6379, &cfg.CachePort},
		{"CACHE_DB", 0, &cfg.CacheDB},
		{"COUNTER_SHARD_COUNT", 50, &cfg.ShardCount},
		{"TX_MAX_RETRIES", 5, &cfg.TxMaxRetries},
		{"JOB_QUEUE_WORKERS", 3, &cfg.JobQueueWorkers},
		{"BACKFILL_BATCH_SIZE", 100, &cfg.BackfillBatchSize},
		{"RATE_LIMIT_MAX", 20, &cfg.RateLimitMax},
	}
	for _, it := range ints {
		v, err := src.getInt(it.key, it.def)
		if err != nil {
			return nil, err
		}
		*it.dst = v
	}

	ttl, err := src.getInt("COUNTER_CACHE_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(ttl) * time.Second

	backfillMinutes, err := src.getInt("BACKFILL_INTERVAL_MINUTES", 0)
	if err != nil {
		return nil, err
	}
	cfg.BackfillInterval = time.Duration(backfillMinutes) * time.Minute

	addends, err := parseAddends(src.get("TOTAL_ADDENDS_CENTS", ""))
	if err != nil {
		return nil, err
	}
	cfg.TotalAddends = addends

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseAddends parses a comma separated list of cent amounts.
func parseAddends(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TOTAL_ADDENDS_CENTS: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// IsDev reports whether the service runs in development mode
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// FixedAddendsTotal returns the sum of the configured grand total addends.
func (c *Config) FixedAddendsTotal() int64 {
	var sum int64
	for _, a := range c.TotalAddends {
		sum += a
	}
	return sum
}

// MySQLDSN builds the gorm MySQL data source name
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// CacheAddr returns host:port of the cache server
func (c *Config) CacheAddr() string {
	return fmt.Sprintf("%s:%d", c.CacheHost, c.CachePort)
}
