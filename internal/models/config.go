package models

import "time"

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig
	Engine   EngineConfig
}

// DatabaseConfig controls the SQLite connection.
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	SeedDemoData    bool
}

// EngineConfig controls event processing behaviour.
type EngineConfig struct {
	// Timezone used for calendar-aligned rule windows (daily/weekly/monthly
	// boundaries, seasons). IANA name, e.g. "America/New_York".
	Timezone string
	// ApplyRetries bounds retries of a ledger append that lost an optimistic
	// version race on the account row.
	ApplyRetries int
	// SeedFile is the YAML program definition consumed by cmd/setup.
	SeedFile string
}
