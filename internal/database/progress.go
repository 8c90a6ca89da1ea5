package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetProgressRecord returns the customer's record against one definition, or
// ErrAccountNotFound-style miss as a nil record with sql semantics hidden.
func (s *Service) GetProgressRecord(ctx context.Context, customerId, definitionId string) (*models.ProgressRecord, error) {
	record, err := scanProgressRecord(s.db.QueryRowContext(ctx, queryGetProgressRecord, customerId, definitionId))
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get progress record: %w", err)
	}
	return record, nil
}

// GetProgressRecords returns all of a customer's progress records, newest
// enrollment first.
func (s *Service) GetProgressRecords(ctx context.Context, customerId string) ([]models.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryGetProgressRecords, customerId)
	if err != nil {
		return nil, fmt.Errorf("failed to get progress records: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var records []models.ProgressRecord
	for rows.Next() {
		record, err := scanProgressRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress rows: %w", err)
	}
	return records, nil
}

// EnrollInChallenge opens an active progress record against a challenge. The
// unique (customer, definition) index rejects a second enrollment with
// ErrDuplicateAward.
func (s *Service) EnrollInChallenge(ctx context.Context, customerId string, challenge models.Challenge) (*models.ProgressRecord, error) {
	now := time.Now()
	record := &models.ProgressRecord{
		Id:             uuid.New().String(),
		CustomerId:     customerId,
		DefinitionKind: models.DefinitionChallenge,
		DefinitionId:   challenge.Id,
		Status:         models.ProgressActive,
		Target:         challenge.TargetValue,
		JoinedAt:       now,
		UpdatedAt:      now,
	}

	_, err := s.db.ExecContext(ctx, queryInsertProgressRecord,
		record.Id, record.CustomerId, record.DefinitionKind, record.DefinitionId,
		record.Status, record.CurrentProgress, record.Target, record.ProgressPercent.String(),
		record.JoinedAt, nil, nil)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer %s already enrolled in %s",
				store.ErrDuplicateAward, customerId, challenge.Id)
		}
		return nil, fmt.Errorf("failed to enroll in challenge: %w", err)
	}

	zap.L().Info("Customer enrolled in challenge",
		zap.String("customer_id", customerId),
		zap.String("challenge_id", challenge.Id),
		zap.Int64("target", challenge.TargetValue))
	return record, nil
}

// Award grants a badge or achievement: the completed progress record and the
// bonus ledger entry commit in one transaction, so a customer can never hold
// the award without the points or vice versa. A second award of the same
// definition fails with ErrDuplicateAward and writes nothing.
func (s *Service) Award(ctx context.Context, params store.AwardParams) (*models.ProgressRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	record := &models.ProgressRecord{
		Id:              uuid.New().String(),
		CustomerId:      params.CustomerId,
		DefinitionKind:  params.DefinitionKind,
		DefinitionId:    params.DefinitionId,
		Status:          models.ProgressCompleted,
		CurrentProgress: params.Target,
		Target:          params.Target,
		ProgressPercent: decimal.NewFromInt(100),
		JoinedAt:        now,
		EarnedAt:        now,
		CompletedAt:     now,
		UpdatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, queryInsertProgressRecord,
		record.Id, record.CustomerId, record.DefinitionKind, record.DefinitionId,
		record.Status, record.CurrentProgress, record.Target, record.ProgressPercent.String(),
		record.JoinedAt, record.EarnedAt, record.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s for customer %s",
				store.ErrDuplicateAward, params.DefinitionKind, params.DefinitionId, params.CustomerId)
		}
		return nil, fmt.Errorf("failed to insert progress record: %w", err)
	}

	if params.PointsReward > 0 {
		_, err = s.appendInTx(ctx, tx, store.AppendParams{
			AccountId:   params.AccountId,
			Points:      params.PointsReward,
			Kind:        models.KindBonus,
			Description: params.Description,
			Reference:   params.Reference,
		}, models.StatusCompleted, now)
		if err != nil {
			return nil, fmt.Errorf("failed to append award bonus: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Award granted",
		zap.String("customer_id", params.CustomerId),
		zap.String("definition_kind", params.DefinitionKind),
		zap.String("definition_id", params.DefinitionId),
		zap.Int64("points_reward", params.PointsReward))
	return record, nil
}

// UpdateChallengeProgress advances an active challenge record. Records that
// already left the active state are not touched.
func (s *Service) UpdateChallengeProgress(ctx context.Context, recordId string, progress int64, percent decimal.Decimal) error {
	result, err := s.db.ExecContext(ctx, queryUpdateChallengeProgress, progress, percent.String(), recordId)
	if err != nil {
		return fmt.Errorf("failed to update challenge progress: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: progress record %s is not active", store.ErrInvalidState, recordId)
	}
	return nil
}

// CompleteChallenge transitions an active challenge record to completed and
// appends the reward entry in the same transaction. The guarded update makes
// the reward exactly-once: a concurrent completer loses the status race and
// gets ErrInvalidState.
func (s *Service) CompleteChallenge(ctx context.Context, params store.CompleteChallengeParams) (*models.ProgressRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	result, err := tx.ExecContext(ctx, queryCompleteChallengeRecord, params.Progress, now, params.RecordId)
	if err != nil {
		return nil, fmt.Errorf("failed to complete challenge record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: progress record %s is not active", store.ErrInvalidState, params.RecordId)
	}

	if params.PointsReward > 0 {
		_, err = s.appendInTx(ctx, tx, store.AppendParams{
			AccountId:   params.AccountId,
			Points:      params.PointsReward,
			Kind:        models.KindBonus,
			Description: params.Description,
			Reference:   params.Reference,
		}, models.StatusCompleted, now)
		if err != nil {
			return nil, fmt.Errorf("failed to append challenge reward: %w", err)
		}
	}

	record, err := scanProgressRecord(tx.QueryRowContext(ctx, queryGetProgressRecordById, params.RecordId))
	if err != nil {
		return nil, fmt.Errorf("failed to read completed record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Challenge completed",
		zap.String("record_id", params.RecordId),
		zap.String("account_id", params.AccountId),
		zap.Int64("points_reward", params.PointsReward))
	return record, nil
}

// ExpireOverdueChallenges fails over all active challenge records whose
// challenge window closed before the given instant. Returns the number of
// records expired. Meant to run from a periodic sweep, not the hot path.
func (s *Service) ExpireOverdueChallenges(ctx context.Context, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, queryExpireOverdueChallenges, at)
	if err != nil {
		return 0, fmt.Errorf("failed to expire challenges: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		zap.L().Info("Expired overdue challenge records", zap.Int64("count", n))
	}
	return int(n), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func scanProgressRecord(row rowScanner) (*models.ProgressRecord, error) {
	var record models.ProgressRecord
	var percent string
	var earnedAt, completedAt sql.NullTime
	err := row.Scan(&record.Id, &record.CustomerId, &record.DefinitionKind,
		&record.DefinitionId, &record.Status, &record.CurrentProgress, &record.Target,
		&percent, &record.JoinedAt, &earnedAt, &completedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	record.ProgressPercent, err = decimal.NewFromString(percent)
	if err != nil {
		return nil, fmt.Errorf("invalid progress percent %q: %w", percent, err)
	}
	if earnedAt.Valid {
		record.EarnedAt = earnedAt.Time
	}
	if completedAt.Valid {
		record.CompletedAt = completedAt.Time
	}
	return &record, nil
}
