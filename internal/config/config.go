// Package config loads process configuration from the environment using
// struct tags, the same way the renderer template in this stack does.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Controller holds everything the session controller needs at startup.
type Controller struct {
	Port string `env:"PORT" envDefault:"8080"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDSN string `env:"STORE_DSN" envDefault:"file:workerspawn.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"`

	SigningKeyPath string `env:"SIGNING_KEY_PATH" envDefault:"./keys/controller.pem"`
	SigningKeyID   string `env:"SIGNING_KEY_ID" envDefault:"controller-1"`

	GatewayPublicOrigin string `env:"GATEWAY_PUBLIC_ORIGIN,required"`

	OrchestratorNamespace  string `env:"ORCHESTRATOR_NAMESPACE" envDefault:"workerspawn"`
	WorkerImage            string `env:"WORKER_IMAGE,required"`
	WorkerNetworkName      string `env:"WORKER_NETWORK_NAME" envDefault:"workerspawn-net"`
	DockerHost             string `env:"DOCKER_HOST" envDefault:""`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"10m"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"5m"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"5"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`

	PruneInterval time.Duration `env:"PRUNE_INTERVAL" envDefault:"15s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Gateway holds everything the WebSocket gateway needs at startup.
type Gateway struct {
	Port string `env:"PORT" envDefault:"8081"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDSN string `env:"STORE_DSN" envDefault:"file:workerspawn.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"`

	JWKSURL       string        `env:"JWKS_URL,required"`
	JWKSRefresh   time.Duration `env:"JWKS_REFRESH_INTERVAL" envDefault:"10m"`
	ExpectedAud   string        `env:"EXPECTED_AUDIENCE" envDefault:"ws"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	PongTimeout  time.Duration `env:"PONG_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"1h"`
}

func LoadController() (Controller, error) {
	var cfg Controller
	if err := env.Parse(&cfg); err != nil {
		return Controller{}, fmt.Errorf("config: parse controller env: %w", err)
	}
	return cfg, nil
}

func LoadGateway() (Gateway, error) {
	var cfg Gateway
	if err := env.Parse(&cfg); err != nil {
		return Gateway{}, fmt.Errorf("config: parse gateway env: %w", err)
	}
	return cfg, nil
}
