package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config is the process configuration, read from the environment.
type Config struct {
	ListenAddress string

	AWSRegion   string
	AWSEndpoint string // optional; LocalStack-style override

	// DatabaseURL enables the postgres job store; empty means in-memory.
	DatabaseURL string

	VirtualStoreBaseURL string

	MinConfidence      float64
	StalenessThreshold time.Duration
	PropagationDelay   time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddress:       getEnv("LISTEN_ADDRESS", ":8080"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpoint:         os.Getenv("AWS_ENDPOINT"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		VirtualStoreBaseURL: os.Getenv("VIRTUAL_STORE_BASE_URL"),
	}

	var err error
	if cfg.MinConfidence, err = getFloat("MIN_CONFIDENCE", 80); err != nil {
		return nil, err
	}
	if cfg.StalenessThreshold, err = getDuration("STALENESS_THRESHOLD", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PropagationDelay, err = getDuration("PROPAGATION_DELAY", 2*time.Second); err != nil {
		return nil, err
	}

	if cfg.VirtualStoreBaseURL == "" {
		return nil, errors.New("VIRTUAL_STORE_BASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}
