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

const (
	// Program / reference data queries
	queryInsertProgram = `
		INSERT INTO programs (id, name, timezone) VALUES (?, ?, ?)`

	queryGetProgram = `
		SELECT id, name, timezone, active, created_at, updated_at
		FROM programs
		WHERE id = ?`

	queryInsertTier = `
		INSERT INTO tiers (id, program_id, name, points_threshold) VALUES (?, ?, ?, ?)`

	queryGetTiers = `
		SELECT id, program_id, name, points_threshold, created_at
		FROM tiers
		WHERE program_id = ?
		ORDER BY points_threshold`

	queryGetTier = `
		SELECT id, program_id, name, points_threshold, created_at
		FROM tiers
		WHERE id = ?`

	queryEligibleTier = `
		SELECT id
		FROM tiers
		WHERE program_id = ? AND points_threshold <= ?
		ORDER BY points_threshold DESC
		LIMIT 1`

	queryInsertLocation = `
		INSERT INTO locations (id, program_id, name) VALUES (?, ?, ?)`

	queryGetLocation = `
		SELECT id, program_id, name, active, created_at
		FROM locations
		WHERE id = ? AND active = 1`

	// Account queries
	queryInsertAccount = `
		INSERT INTO accounts (id, customer_id, program_id, points_balance, lifetime_points, version)
		VALUES (?, ?, ?, 0, 0, 1)`

	queryGetAccount = `
		SELECT id, customer_id, program_id, points_balance, lifetime_points, tier_id,
		       last_activity, version, active, created_at, updated_at
		FROM accounts
		WHERE id = ?`

	queryFindAccount = `
		SELECT id, customer_id, program_id, points_balance, lifetime_points, tier_id,
		       last_activity, version, active, created_at, updated_at
		FROM accounts
		WHERE customer_id = ? AND program_id = ?`

	queryGetProgramAccounts = `
		SELECT id, customer_id, program_id, points_balance, lifetime_points, tier_id,
		       last_activity, version, active, created_at, updated_at
		FROM accounts
		WHERE program_id = ?
		ORDER BY points_balance DESC`

	queryDeactivateAccount = `
		UPDATE accounts
		SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	queryLockAccount = `
		SELECT points_balance, lifetime_points, tier_id, version
		FROM accounts
		WHERE id = ?`

	// Optimistic concurrency guard: the version predicate makes a lost
	// update impossible; zero rows affected means a concurrent writer won.
	queryUpdateAccountState = `
		UPDATE accounts
		SET points_balance = ?, lifetime_points = ?, tier_id = ?, last_activity = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	// Ledger queries
	queryCheckDuplicateReference = `
		SELECT id FROM ledger_entries WHERE account_id = ? AND reference = ? LIMIT 1`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (
			id, account_id, points, kind, description, reference, rule_id, location_id,
			balance_before, balance_after, status, created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetLedgerEntry = `
		SELECT id, account_id, points, kind, description, reference, rule_id, location_id,
		       balance_before, balance_after, status, created_at, processed_at
		FROM ledger_entries
		WHERE id = ?`

	queryUpdateEntryStatus = `
		UPDATE ledger_entries
		SET status = ?, processed_at = ?
		WHERE id = ? AND status = ?`

	queryGetLedgerHistory = `
		SELECT id, account_id, points, kind, description, reference, rule_id, location_id,
		       balance_before, balance_after, status, created_at, processed_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(points), 0)
		FROM ledger_entries
		WHERE account_id = ? AND status IN ('completed', 'pending')`

	queryReconcileLifetime = `
		SELECT COALESCE(SUM(points), 0)
		FROM ledger_entries
		WHERE account_id = ? AND status = 'completed' AND points > 0`

	// Rule queries
	queryInsertRule = `
		INSERT INTO rules (
			id, program_id, name, description, rule_type, trigger_event, conditions,
			base_points, priority, location_based, start_date, end_date, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetRule = `
		SELECT id, program_id, name, description, rule_type, trigger_event, conditions,
		       base_points, priority, location_based, start_date, end_date, active, created_at, updated_at
		FROM rules
		WHERE id = ?`

	// Deterministic order: priority descending, then creation time.
	queryGetActiveRules = `
		SELECT id, program_id, name, description, rule_type, trigger_event, conditions,
		       base_points, priority, location_based, start_date, end_date, active, created_at, updated_at
		FROM rules
		WHERE program_id = ? AND active = 1 AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY priority DESC, created_at ASC`

	queryDeactivateRule = `
		UPDATE rules
		SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	// Evaluator history queries
	queryCountRuleEntries = `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = ? AND rule_id = ? AND status = 'completed' AND created_at >= ?`

	queryRuleEntryOnDay = `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE account_id = ? AND rule_id = ? AND status = 'completed'
			  AND created_at >= ? AND created_at < ?
		)`

	queryCountActionEntries = `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = ? AND kind = 'earn' AND status = 'completed'
		  AND LOWER(description) LIKE '%' || ? || '%' AND created_at >= ?`

	queryCountDistinctLocations = `
		SELECT COUNT(DISTINCT location_id)
		FROM ledger_entries
		WHERE account_id = ? AND kind = 'earn' AND status = 'completed'
		  AND location_id != '' AND created_at >= ?`

	queryLocationVisited = `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE account_id = ? AND kind = 'earn' AND status = 'completed'
			  AND location_id = ? AND created_at >= ?
		)`

	queryMilestoneAwarded = `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE account_id = ? AND rule_id = ? AND reference = ? AND status != 'cancelled'
		)`

	queryCountVisits = `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = ? AND kind = 'earn' AND status = 'completed'
		  AND LOWER(description) LIKE '%check-in%'`

	// Progress history queries
	queryCountEntries = `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = ? AND status = 'completed' AND created_at >= ?`

	queryCountEntriesByKind = `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = ? AND kind = ? AND status = 'completed'`

	querySumEarnedBetween = `
		SELECT COALESCE(SUM(points), 0)
		FROM ledger_entries
		WHERE account_id = ? AND points > 0 AND status = 'completed'
		  AND created_at >= ? AND created_at <= ?`

	queryCountVisitsBetween = `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = ? AND kind = 'earn' AND status = 'completed'
		  AND LOWER(description) LIKE '%check-in%'
		  AND created_at >= ? AND created_at <= ?`

	queryCountDistinctVisitDays = `
		SELECT COUNT(DISTINCT DATE(created_at))
		FROM ledger_entries
		WHERE account_id = ? AND kind = 'earn' AND status = 'completed'
		  AND LOWER(description) LIKE '%check-in%'
		  AND created_at >= ? AND created_at <= ?`

	queryVisitOnDay = `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE account_id = ? AND kind = 'earn' AND status = 'completed'
			  AND LOWER(description) LIKE '%check-in%'
			  AND created_at >= ? AND created_at < ?
		)`

	queryFirstEntryTime = `
		SELECT MIN(created_at)
		FROM ledger_entries
		WHERE account_id = ? AND status = 'completed'`

	// Gamification definition queries
	queryInsertBadge = `
		INSERT INTO badges (id, program_id, name, description, badge_type, rarity, points_reward, criteria, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetBadge = `
		SELECT id, program_id, name, description, badge_type, rarity, points_reward, criteria, active, created_at
		FROM badges
		WHERE id = ?`

	queryGetActiveBadges = `
		SELECT id, program_id, name, description, badge_type, rarity, points_reward, criteria, active, created_at
		FROM badges
		WHERE program_id = ? AND active = 1
		ORDER BY rarity, name`

	queryInsertChallenge = `
		INSERT INTO challenges (id, program_id, name, description, challenge_type, difficulty,
			target_value, points_reward, badge_reward_id, start_date, end_date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetOngoingChallenges = `
		SELECT id, program_id, name, description, challenge_type, difficulty,
		       target_value, points_reward, badge_reward_id, start_date, end_date, active, created_at
		FROM challenges
		WHERE program_id = ? AND active = 1 AND start_date <= ? AND end_date >= ?
		ORDER BY start_date DESC`

	queryInsertAchievement = `
		INSERT INTO achievements (id, program_id, name, description, achievement_type,
			points_reward, badge_reward_id, criteria, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetActiveAchievements = `
		SELECT id, program_id, name, description, achievement_type, points_reward,
		       badge_reward_id, criteria, active, created_at
		FROM achievements
		WHERE program_id = ? AND active = 1
		ORDER BY name`

	// Progress record queries
	queryInsertProgressRecord = `
		INSERT INTO progress_records (id, customer_id, definition_kind, definition_id,
			status, current_progress, target, progress_percent, joined_at, earned_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetProgressRecord = `
		SELECT id, customer_id, definition_kind, definition_id, status, current_progress,
		       target, progress_percent, joined_at, earned_at, completed_at, updated_at
		FROM progress_records
		WHERE customer_id = ? AND definition_id = ?`

	queryGetProgressRecordById = `
		SELECT id, customer_id, definition_kind, definition_id, status, current_progress,
		       target, progress_percent, joined_at, earned_at, completed_at, updated_at
		FROM progress_records
		WHERE id = ?`

	queryGetProgressRecords = `
		SELECT id, customer_id, definition_kind, definition_id, status, current_progress,
		       target, progress_percent, joined_at, earned_at, completed_at, updated_at
		FROM progress_records
		WHERE customer_id = ?
		ORDER BY joined_at DESC`

	queryUpdateChallengeProgress = `
		UPDATE progress_records
		SET current_progress = ?, progress_percent = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'active'`

	queryCompleteChallengeRecord = `
		UPDATE progress_records
		SET status = 'completed', current_progress = ?, progress_percent = '100',
		    completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'active'`

	queryExpireOverdueChallenges = `
		UPDATE progress_records
		SET status = 'expired', updated_at = CURRENT_TIMESTAMP
		WHERE definition_kind = 'challenge' AND status = 'active'
		  AND definition_id IN (SELECT id FROM challenges WHERE end_date < ?)`

	// Leaderboard queries (snapshot reads across accounts)
	queryPointsLeaderboard = `
		SELECT a.customer_id, COALESCE(SUM(e.points), 0) AS score
		FROM accounts a
		JOIN ledger_entries e ON e.account_id = a.id
		WHERE a.program_id = ? AND e.points > 0 AND e.status = 'completed'
		  AND e.created_at >= ? AND e.created_at <= ?
		GROUP BY a.customer_id
		ORDER BY score DESC
		LIMIT ?`

	queryVisitsLeaderboard = `
		SELECT a.customer_id, COUNT(*) AS score
		FROM accounts a
		JOIN ledger_entries e ON e.account_id = a.id
		WHERE a.program_id = ? AND e.kind = 'earn' AND e.status = 'completed'
		  AND LOWER(e.description) LIKE '%check-in%'
		  AND e.created_at >= ? AND e.created_at <= ?
		GROUP BY a.customer_id
		ORDER BY score DESC
		LIMIT ?`
)
