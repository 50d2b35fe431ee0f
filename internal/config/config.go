// Package config assembles runtime settings: defaults, then an optional TOML
// file named by EVALFLOW_CONFIG, then environment (a local .env is loaded first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"tovus.net/evalflow/internal/approval"
)

type HTTP struct {
	Addr           string   `toml:"addr"`
	MaxBodyBytes   int64    `toml:"max_body_bytes"`
	RatePerSec     float64  `toml:"rate_per_sec"`
	RateBurst      int      `toml:"rate_burst"`
	AllowedOrigins []string `toml:"allowed_origins"`
	DevTokens      bool     `toml:"dev_tokens"`
}

type GRPC struct {
	Addr string `toml:"addr"`
}

type Database struct {
	DSN string `toml:"dsn"`
}

type Workflow struct {
	Module          string `toml:"module"`
	PublicBaseURL   string `toml:"public_base_url"`
	BulkConcurrency int    `toml:"bulk_concurrency"`
	TrackingQueue   int    `toml:"tracking_queue"`
	MasterdataFile  string `toml:"masterdata_file"`
}

type Config struct {
	HTTP     HTTP     `toml:"http"`
	GRPC     GRPC     `toml:"grpc"`
	Database Database `toml:"database"`
	Workflow Workflow `toml:"workflow"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
			RatePerSec:   50,
			RateBurst:    100,
		},
		GRPC: GRPC{Addr: ":9090"},
		Workflow: Workflow{
			Module:          string(approval.ModuleEvaluationAppraisal),
			PublicBaseURL:   "http://localhost:3000",
			BulkConcurrency: 8,
			TrackingQueue:   1024,
		},
	}
}

// Load reads .env, the optional TOML file and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("EVALFLOW_CONFIG")); path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decodeFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("EVALFLOW_HTTP_ADDR", &c.HTTP.Addr)
	str("EVALFLOW_GRPC_ADDR", &c.GRPC.Addr)
	str("EVALFLOW_PG_DSN", &c.Database.DSN)
	str("EVALFLOW_PUBLIC_BASE_URL", &c.Workflow.PublicBaseURL)
	str("EVALFLOW_MODULE", &c.Workflow.Module)
	str("EVALFLOW_MASTERDATA_FILE", &c.Workflow.MasterdataFile)

	if v, ok := lookup("EVALFLOW_CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.HTTP.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.HTTP.AllowedOrigins = append(c.HTTP.AllowedOrigins, o)
			}
		}
	}
	if v, ok := lookup("EVALFLOW_DEV_TOKENS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EVALFLOW_DEV_TOKENS: %w", err)
		}
		c.HTTP.DevTokens = b
	}
	if v, ok := lookup("EVALFLOW_RATE_PER_SEC"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("EVALFLOW_RATE_PER_SEC: %w", err)
		}
		c.HTTP.RatePerSec = f
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"EVALFLOW_RATE_BURST", &c.HTTP.RateBurst},
		{"EVALFLOW_BULK_CONCURRENCY", &c.Workflow.BulkConcurrency},
		{"EVALFLOW_TRACKING_QUEUE", &c.Workflow.TrackingQueue},
	}
	for _, it := range ints {
		if v, ok := lookup(it.key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", it.key, err)
			}
			*it.dst = n
		}
	}
	if v, ok := lookup("EVALFLOW_MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("EVALFLOW_MAX_BODY_BYTES: %w", err)
		}
		c.HTTP.MaxBodyBytes = n
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case !approval.Module(c.Workflow.Module).Valid():
		return fmt.Errorf("config: unknown workflow module %q", c.Workflow.Module)
	case c.Workflow.BulkConcurrency < 1:
		return fmt.Errorf("config: bulk_concurrency must be positive")
	case c.HTTP.MaxBodyBytes <= 0:
		return fmt.Errorf("config: max_body_bytes must be positive")
	}
	return nil
}
