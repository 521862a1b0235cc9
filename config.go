package main

import (
	"errors"
	"time"

	"admin-approvals/api"
)

type serviceConfig struct {
	Debug        bool   `env:"DEBUG"`
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	FunctionPort string `env:"FUNCTIONS_CUSTOMHANDLER_PORT"`

	DatabasePath string        `env:"DATABASE_PATH,required,notEmpty"`
	RedisConn    string        `env:"REDIS_CONNECTION_STRING,required,notEmpty"`
	AdminCache   time.Duration `env:"ADMIN_CACHE_TTL" envDefault:"5m"`
	DeduperTTL   time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`

	StorageConn       string `env:"STORAGE_CONNECTION_STRING"`
	NotificationQueue string `env:"NOTIFICATION_QUEUE"`

	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenIssuer string        `env:"TOKEN_ISSUER" envDefault:"admin-approvals"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	JWKSURL     string        `env:"JWKS_URL"`
	JWTAudience string        `env:"JWT_AUDIENCE"`

	OutboxWorkers        int           `env:"OUTBOX_WORKERS" envDefault:"4"`
	OutboxBuffer         int           `env:"OUTBOX_BUFFER" envDefault:"256"`
	OutboxHandoffTimeout time.Duration `env:"OUTBOX_HANDOFF_TIMEOUT" envDefault:"25ms"`
	OutboxRetryInitial   time.Duration `env:"OUTBOX_RETRY_INITIAL" envDefault:"250ms"`
	OutboxRetryMax       time.Duration `env:"OUTBOX_RETRY_MAX" envDefault:"30s"`
	OutboxMaxAttempts    int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`

	OtelStdout   bool `env:"OTEL_STDOUT"`
	PprofEnabled bool `env:"PPROF_ENABLED"`
}

func (c serviceConfig) validate() error {
	if c.TokenSecret == "" && c.JWKSURL == "" {
		return errors.New("TOKEN_SECRET or JWKS_URL must be set")
	}
	if c.DeduperTTL <= 0 {
		return errors.New("DEDUPER_TTL must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if (c.StorageConn == "") != (c.NotificationQueue == "") {
		return errors.New("STORAGE_CONNECTION_STRING and NOTIFICATION_QUEUE must be set together")
	}
	return nil
}

func (c serviceConfig) listenAddr() string {
	if c.FunctionPort != "" {
		return ":" + c.FunctionPort
	}
	return c.ListenAddr
}

func (c serviceConfig) outbox() api.OutboxConfig {
	return api.OutboxConfig{
		Workers:        c.OutboxWorkers,
		Buffer:         c.OutboxBuffer,
		HandoffTimeout: c.OutboxHandoffTimeout,
		RetryInitial:   c.OutboxRetryInitial,
		RetryMax:       c.OutboxRetryMax,
		MaxAttempts:    c.OutboxMaxAttempts,
	}
}
