// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port           string   `envconfig:"PORT" default:"5000"`
	Addr           string   `envconfig:"ADDR"`
	AdvertiseAddr  string   `envconfig:"ADVERTISE_ADDR"`
	FrontendURL    string   `envconfig:"FRONTEND_URL"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"LOG_FORMAT" default:"json"`

	Sync    Sync    `envconfig:"SYNC"`
	Youtube Youtube `envconfig:"YOUTUBE"`
	Redis   Redis   `envconfig:"REDIS"`
	Cluster Cluster `envconfig:"CLUSTER"`
}

type Sync struct {
	BroadcastPeriod  time.Duration `envconfig:"BROADCAST_PERIOD" default:"100ms"`
	EmptyRoomTimeout time.Duration `envconfig:"EMPTY_ROOM_TIMEOUT" default:"1m"`
}

type Youtube struct {
	APIKey    string        `envconfig:"API_KEY"`
	Limit     int64         `envconfig:"LIMIT" default:"10"`
	CacheSize int           `envconfig:"CACHE_SIZE" default:"256"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"10m"`
}

// Redis is only needed by the multi-backend deployment. Sentinel takes
// precedence over Addr when both are set.
type Redis struct {
	Addr     string `envconfig:"ADDR"`
	Sentinel string `envconfig:"SENTINEL"`
	Master   string `envconfig:"MASTER" default:"mymaster"`
}

// Load reads .env from the working directory if present, then the
// environment. Variables already set in the environment win.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	return &cfg, nil
}

// ListenAddr is ADDR when set, otherwise ":" + PORT.
func (c *Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return ":" + c.Port
}

// Origins merges FRONTEND_URL into the allowed CORS origins.
func (c *Config) Origins() []string {
	origins := make([]string, 0, len(c.AllowedOrigins)+1)
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	for _, o := range c.AllowedOrigins {
		if o != "" && o != c.FrontendURL {
			origins = append(origins, o)
		}
	}
	return origins
}

// Cluster describes the backends the orchestrator discovers in Kubernetes.
type Cluster struct {
	Namespace       string        `envconfig:"NAMESPACE"`
	LabelSelector   string        `envconfig:"LABEL_SELECTOR" default:"tier=backend"`
	Service         string        `envconfig:"SERVICE" default:"ws-backend-service"`
	BackendPort     int           `envconfig:"BACKEND_PORT" default:"8080"`
	RoomsPerBackend int           `envconfig:"ROOMS_PER_BACKEND" default:"500"`
	UpdatePeriod    time.Duration `envconfig:"UPDATE_PERIOD" default:"30s"`
	Strategy        string        `envconfig:"STRATEGY" default:"balance"`
}

func (r Redis) Enabled() bool {
	return r.Addr != "" || r.Sentinel != ""
}
