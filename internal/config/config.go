// Package config loads the hub's runtime configuration the way the teacher's
// cmd/main.go does: a JSON document (an embedded default or a file on disk)
// with a thin layer of environment-variable overrides, rather than pulling in
// a configuration framework neither this repo nor its producer-side
// collaborator needs.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

const defaultConfig = `{
  "server": {
    "host": "0.0.0.0",
    "port": 3002,
    "readTimeoutSec": 10,
    "writeTimeoutSec": 10
  },
  "transport": {
    "path": "/ws",
    "maxConnections": 50000,
    "readBufferSize": 4096,
    "writeBufferSize": 4096,
    "outboundBufferSize": 256
  },
  "ingress": {
    "url": "nats://localhost:4222",
    "subject": "events.>",
    "maxReconnects": -1,
    "reconnectWaitMs": 2000,
    "reconnectJitterMs": 500,
    "maxPingsOut": 2,
    "pingIntervalSec": 20
  },
  "auth": {
    "jwtSecret": "dev-secret-change-in-production",
    "tokenExpirationSec": 3600,
    "requireAuth": false
  },
  "hub": {
    "maxActiveSubscriptionsPerClient": 100,
    "protocolVersion": "2025-01-01",
    "sessionGraceSec": 300
  },
  "httpapi": {
    "listenAddr": ":9095",
    "enablePrometheus": true,
    "metricsPath": "/metrics"
  }
}`

// Config holds every ambient setting the hub's components need at startup.
type Config struct {
	Server struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		ReadTimeoutSec  int    `json:"readTimeoutSec"`
		WriteTimeoutSec int    `json:"writeTimeoutSec"`
	} `json:"server"`

	Transport struct {
		Path               string `json:"path"`
		MaxConnections     int    `json:"maxConnections"`
		ReadBufferSize     int    `json:"readBufferSize"`
		WriteBufferSize    int    `json:"writeBufferSize"`
		OutboundBufferSize int    `json:"outboundBufferSize"`
	} `json:"transport"`

	Ingress struct {
		URL               string `json:"url"`
		Subject           string `json:"subject"`
		MaxReconnects     int    `json:"maxReconnects"`
		ReconnectWaitMs   int    `json:"reconnectWaitMs"`
		ReconnectJitterMs int    `json:"reconnectJitterMs"`
		MaxPingsOut       int    `json:"maxPingsOut"`
		PingIntervalSec   int    `json:"pingIntervalSec"`
	} `json:"ingress"`

	Auth struct {
		JWTSecret          string `json:"jwtSecret"`
		TokenExpirationSec int    `json:"tokenExpirationSec"`
		RequireAuth        bool   `json:"requireAuth"`
	} `json:"auth"`

	Hub struct {
		MaxActiveSubscriptionsPerClient int    `json:"maxActiveSubscriptionsPerClient"`
		ProtocolVersion                 string `json:"protocolVersion"`
		SessionGraceSec                 int    `json:"sessionGraceSec"`
	} `json:"hub"`

	HTTPAPI struct {
		ListenAddr       string `json:"listenAddr"`
		EnablePrometheus bool   `json:"enablePrometheus"`
		MetricsPath      string `json:"metricsPath"`
	} `json:"httpapi"`
}

// ReadTimeout returns the server's read timeout as a time.Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}

// WriteTimeout returns the server's write timeout as a time.Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSec) * time.Second
}

// SessionGrace returns the reconnect grace period as a time.Duration.
func (c *Config) SessionGrace() time.Duration {
	return time.Duration(c.Hub.SessionGraceSec) * time.Second
}

// ReconnectWait returns the ingress reconnect wait as a time.Duration.
func (c *Config) ReconnectWait() time.Duration {
	return time.Duration(c.Ingress.ReconnectWaitMs) * time.Millisecond
}

// ReconnectJitter returns the ingress reconnect jitter as a time.Duration.
func (c *Config) ReconnectJitter() time.Duration {
	return time.Duration(c.Ingress.ReconnectJitterMs) * time.Millisecond
}

// PingInterval returns the ingress ping interval as a time.Duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Ingress.PingIntervalSec) * time.Second
}

// Load reads configuration from configPath, falling back to the embedded
// default when configPath is empty, then applies environment variable
// overrides.
func Load(configPath string) (*Config, error) {
	var configData []byte
	var err error

	if configPath != "" {
		configData, err = os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		configData = []byte(defaultConfig)
	}

	configData = []byte(os.ExpandEnv(string(configData)))

	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = v
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.Ingress.URL = natsURL
	}
	if subject := os.Getenv("NATS_SUBJECT"); subject != "" {
		cfg.Ingress.Subject = subject
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		cfg.Auth.JWTSecret = jwtSecret
	}
	if requireAuth := os.Getenv("REQUIRE_AUTH"); requireAuth != "" {
		cfg.Auth.RequireAuth = requireAuth == "true"
	}

	if limit := os.Getenv("MAX_ACTIVE_SUBSCRIPTIONS_PER_CLIENT"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil {
			cfg.Hub.MaxActiveSubscriptionsPerClient = v
		}
	}

	if enableProm := os.Getenv("ENABLE_PROMETHEUS"); enableProm != "" {
		cfg.HTTPAPI.EnablePrometheus = enableProm == "true"
	}
}
