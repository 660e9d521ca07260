package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Formance FormanceConfig
	Chain    ChainConfig
	Monitor  MonitorConfig
	Retry    RetryConfig
	Events   EventsConfig
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig selects the ledger backend ("sqlite" or "formance").
type LedgerConfig struct {
	Backend string
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// ChainConfig holds blockchain node and submission settings
type ChainConfig struct {
	RPCURL       string
	Network      string
	FromAddress  string
	NetworksFile string
	MaxRetries   int
	RetryEnabled bool
}

// MonitorConfig holds settlement monitor settings
type MonitorConfig struct {
	PollInterval     time.Duration
	MaxCheckAttempts int
	// SweepSchedule is a cron spec for the stale-transfer report job.
	SweepSchedule string
}

// RetryConfig holds provider retry/fallback defaults
type RetryConfig struct {
	MaxRetries         int
	BaseDelay          time.Duration
	ExponentialBackoff bool
}

// EventsConfig holds AMQP settlement event settings. An empty URL disables
// publishing.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}
