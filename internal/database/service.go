/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an existing connection. Used by tests against
// :memory: databases.
func NewServiceWithDB(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema() error {
	schema := `
	-- Programs (one per tenant loyalty program)
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Tiers, ordered by threshold within a program
	CREATE TABLE IF NOT EXISTS tiers (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		points_threshold INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tiers_program_threshold ON tiers(program_id, points_threshold);

	-- Locations (reference data for location-based rules)
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Accounts (current state - hot data)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		points_balance INTEGER NOT NULL DEFAULT 0,
		lifetime_points INTEGER NOT NULL DEFAULT 0,
		tier_id TEXT NOT NULL DEFAULT '',
		last_activity TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, program_id)
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(customer_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_customer_program ON accounts(customer_id, program_id);

	-- Ledger entries (audit trail - cold data, append-only; only status
	-- ever changes after insert)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		points INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		rule_id TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL DEFAULT '',
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'completed',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_account_created ON ledger_entries(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_rule ON ledger_entries(account_id, rule_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference ON ledger_entries(account_id, reference);
	CREATE INDEX IF NOT EXISTS idx_ledger_status ON ledger_entries(status);

	-- Rules (read-only to the engine; soft-deactivated only)
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		rule_type TEXT NOT NULL DEFAULT 'earn',
		trigger_event TEXT NOT NULL DEFAULT '',
		conditions TEXT NOT NULL DEFAULT '{}',
		base_points INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		location_based BOOLEAN NOT NULL DEFAULT 0,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rules_program_active ON rules(program_id, active);

	-- Gamification definitions
	CREATE TABLE IF NOT EXISTS badges (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		badge_type TEXT NOT NULL,
		rarity TEXT NOT NULL DEFAULT 'common',
		points_reward INTEGER NOT NULL DEFAULT 0,
		criteria TEXT NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(program_id, name)
	);

	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		challenge_type TEXT NOT NULL,
		difficulty TEXT NOT NULL DEFAULT 'medium',
		target_value INTEGER NOT NULL,
		points_reward INTEGER NOT NULL DEFAULT 0,
		badge_reward_id TEXT NOT NULL DEFAULT '',
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_challenges_program_dates ON challenges(program_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS achievements (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		achievement_type TEXT NOT NULL,
		points_reward INTEGER NOT NULL DEFAULT 0,
		badge_reward_id TEXT NOT NULL DEFAULT '',
		criteria TEXT NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(program_id, name)
	);

	-- Progress records. The unique index on (customer, definition) is the
	-- race guard for concurrent duplicate awards.
	CREATE TABLE IF NOT EXISTS progress_records (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		definition_kind TEXT NOT NULL,
		definition_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		current_progress INTEGER NOT NULL DEFAULT 0,
		target INTEGER NOT NULL DEFAULT 0,
		progress_percent TEXT NOT NULL DEFAULT '0',
		joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		earned_at TIMESTAMP,
		completed_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, definition_id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_progress_customer_definition ON progress_records(customer_id, definition_id);
	CREATE INDEX IF NOT EXISTS idx_progress_customer_status ON progress_records(customer_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}
