package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

// Enabled reports whether enough R2 settings are present to build a client.
func (r R2) Enabled() bool {
	return r.AccountID != "" && r.AccessKey != "" && r.SecretKey != "" && r.BucketName != ""
}

type Worker struct {
	Interval   time.Duration
	BatchSize  int
	BatchPause time.Duration
}

type Config struct {
	InstagramClientSecret string
	TiktokClientKey       string
	TiktokClientSecret    string
	GoogleClientID        string
	GoogleClientSecret    string
	PostgresURI           string
	RedisURI              string
	HTTPAddr              string
	R2                    R2
	MediaDir              string
	SecretKey             string
	CookieName            string
	Sandbox               bool
	Worker                Worker
	MaxAttempts           int
	CallTimeout           time.Duration
	JobLease              time.Duration
	PlatformRatePerSec    float64
	LogLevel              string
	LogFormat             string
	LogFile               string
}

// typedEnv holds the settings that are not plain strings. Malformed values fail
// LoadConfig instead of falling back to the default.
type typedEnv struct {
	Sandbox            bool          `env:"SANDBOX" envDefault:"false"`
	WorkerInterval     time.Duration `env:"WORKER_INTERVAL" envDefault:"60s"`
	WorkerBatchSize    int           `env:"WORKER_BATCH_SIZE" envDefault:"5"`
	WorkerBatchPause   time.Duration `env:"WORKER_BATCH_PAUSE" envDefault:"1s"`
	MaxAttempts        int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	CallTimeout        time.Duration `env:"CALL_TIMEOUT" envDefault:"60s"`
	JobLease           time.Duration `env:"JOB_LEASE" envDefault:"15m"`
	PlatformRatePerSec float64       `env:"PLATFORM_RATE_PER_SEC" envDefault:"2"`
}

func (t typedEnv) check() error {
	settings := []struct {
		key string
		ok  bool
	}{
		{"WORKER_INTERVAL", t.WorkerInterval > 0},
		{"WORKER_BATCH_SIZE", t.WorkerBatchSize > 0},
		{"WORKER_BATCH_PAUSE", t.WorkerBatchPause >= 0},
		{"MAX_ATTEMPTS", t.MaxAttempts > 0},
		{"CALL_TIMEOUT", t.CallTimeout > 0},
		{"JOB_LEASE", t.JobLease > 0},
		{"PLATFORM_RATE_PER_SEC", t.PlatformRatePerSec > 0},
	}
	for _, setting := range settings {
		if !setting.ok {
			return fmt.Errorf("config: %s is out of range", setting.key)
		}
	}
	return nil
}

func LoadConfig() (*Config, error) {
	var typed typedEnv
	if err := env.Parse(&typed); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := typed.check(); err != nil {
		return nil, err
	}

	return &Config{
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		TiktokClientKey:       getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:    getEnv("TIKTOK_CLIENT_SECRET", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", ""),
		HTTPAddr:              getEnv("HTTP_ADDR", ":3000"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		MediaDir:   getEnv("MEDIA_DIR", "./media"),
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "multpost_session"),
		Sandbox:    typed.Sandbox,
		Worker: Worker{
			Interval:   typed.WorkerInterval,
			BatchSize:  typed.WorkerBatchSize,
			BatchPause: typed.WorkerBatchPause,
		},
		MaxAttempts:        typed.MaxAttempts,
		CallTimeout:        typed.CallTimeout,
		JobLease:           typed.JobLease,
		PlatformRatePerSec: typed.PlatformRatePerSec,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		LogFile:            getEnv("LOG_FILE", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
