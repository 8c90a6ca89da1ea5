package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Append creates a completed ledger entry and atomically updates the owning
// account: balance, lifetime points (positive deltas only), last activity and
// tier. A redeem that would drive the balance negative fails with
// ErrInsufficientBalance and leaves the account untouched.
func (s *Service) Append(ctx context.Context, params store.AppendParams) (*models.LedgerEntry, error) {
	return s.append(ctx, params, models.StatusCompleted)
}

// AppendPending records a provisional entry. It holds the points against the
// balance immediately but does not advance lifetime points or the tier until
// the entry is completed.
func (s *Service) AppendPending(ctx context.Context, params store.AppendParams) (*models.LedgerEntry, error) {
	return s.append(ctx, params, models.StatusPending)
}

func (s *Service) append(ctx context.Context, params store.AppendParams, status string) (*models.LedgerEntry, error) {
	zap.L().Debug("Appending ledger entry",
		zap.String("account_id", params.AccountId),
		zap.Int64("points", params.Points),
		zap.String("kind", params.Kind),
		zap.String("status", status))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	entry, err := s.appendInTx(ctx, tx, params, status, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger entry appended",
		zap.String("entry_id", entry.Id),
		zap.String("account_id", entry.AccountId),
		zap.String("kind", entry.Kind),
		zap.Int64("points", entry.Points),
		zap.Int64("balance_after", entry.BalanceAfter))

	return entry, nil
}

// appendInTx performs one append inside an existing transaction so award
// flows can commit a progress record and its bonus entry together. The
// account row carries a version column; the guarded update detects a
// concurrent writer and surfaces ErrConcurrentModification so the caller can
// retry the whole transaction.
func (s *Service) appendInTx(ctx context.Context, tx *sql.Tx, params store.AppendParams, status string, now time.Time) (*models.LedgerEntry, error) {
	if params.Reference != "" {
		var existingId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateReference, params.AccountId, params.Reference).Scan(&existingId)
		if err == nil {
			zap.L().Warn("Duplicate ledger reference detected, skipping",
				zap.String("account_id", params.AccountId),
				zap.String("reference", params.Reference),
				zap.String("existing_entry_id", existingId))
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateEntry, params.Reference)
		} else if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check for duplicate reference: %w", err)
		}
	}

	var balance, lifetime int64
	var tierId string
	var version int64
	err := tx.QueryRowContext(ctx, queryLockAccount, params.AccountId).Scan(&balance, &lifetime, &tierId, &version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, params.AccountId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read account state: %w", err)
	}

	newBalance := balance + params.Points
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientBalance, balance, params.Points)
	}

	// Lifetime points only ever grow, and only once an entry completes.
	newLifetime := lifetime
	if status == models.StatusCompleted && params.Points > 0 {
		newLifetime = lifetime + params.Points
	}

	entry := &models.LedgerEntry{
		Id:            uuid.New().String(),
		AccountId:     params.AccountId,
		Points:        params.Points,
		Kind:          params.Kind,
		Description:   params.Description,
		Reference:     params.Reference,
		RuleId:        params.RuleId,
		LocationId:    params.LocationId,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
		Status:        status,
		CreatedAt:     now,
		ProcessedAt:   now,
	}

	_, err = tx.ExecContext(ctx, queryInsertLedgerEntry,
		entry.Id, entry.AccountId, entry.Points, entry.Kind, entry.Description,
		entry.Reference, entry.RuleId, entry.LocationId,
		entry.BalanceBefore, entry.BalanceAfter, entry.Status, entry.CreatedAt, entry.ProcessedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	newTier, err := s.eligibleTierInTx(ctx, tx, params.AccountId, newLifetime, tierId, status)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, queryUpdateAccountState,
		newBalance, newLifetime, newTier, now, params.AccountId, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("account update failed - %w", store.ErrConcurrentModification)
	}

	if newTier != tierId {
		zap.L().Info("Tier changed",
			zap.String("account_id", params.AccountId),
			zap.String("old_tier", tierId),
			zap.String("new_tier", newTier),
			zap.Int64("lifetime_points", newLifetime))
	}

	return entry, nil
}

// eligibleTierInTx re-evaluates the tier after a completed positive append:
// highest threshold less than or equal to lifetime points wins. Tiers never
// revert because lifetime points never decrease.
func (s *Service) eligibleTierInTx(ctx context.Context, tx *sql.Tx, accountId string, lifetime int64, currentTier, status string) (string, error) {
	if status != models.StatusCompleted {
		return currentTier, nil
	}

	var programId string
	err := tx.QueryRowContext(ctx, `SELECT program_id FROM accounts WHERE id = ?`, accountId).Scan(&programId)
	if err != nil {
		return "", fmt.Errorf("failed to read account program: %w", err)
	}

	var tierId string
	err = tx.QueryRowContext(ctx, queryEligibleTier, programId, lifetime).Scan(&tierId)
	if err == sql.ErrNoRows {
		return currentTier, nil
	} else if err != nil {
		return "", fmt.Errorf("failed to evaluate tier eligibility: %w", err)
	}
	return tierId, nil
}

// CompleteEntry transitions a pending entry to completed, applying its
// lifetime-points effect and re-checking the tier.
func (s *Service) CompleteEntry(ctx context.Context, entryId string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.getEntryInTx(ctx, tx, entryId)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: cannot complete entry in status %q", store.ErrInvalidState, entry.Status)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, queryUpdateEntryStatus, models.StatusCompleted, now, entryId, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to update entry status: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("entry status changed underneath us - %w", store.ErrConcurrentModification)
	}

	// The balance was held at append time; completion applies the lifetime
	// effect and the tier recheck.
	if entry.Points > 0 {
		var balance, lifetime int64
		var tierId string
		var version int64
		if err := tx.QueryRowContext(ctx, queryLockAccount, entry.AccountId).Scan(&balance, &lifetime, &tierId, &version); err != nil {
			return nil, fmt.Errorf("failed to read account state: %w", err)
		}
		newLifetime := lifetime + entry.Points
		newTier, err := s.eligibleTierInTx(ctx, tx, entry.AccountId, newLifetime, tierId, models.StatusCompleted)
		if err != nil {
			return nil, err
		}
		result, err := tx.ExecContext(ctx, queryUpdateAccountState,
			balance, newLifetime, newTier, now, entry.AccountId, version)
		if err != nil {
			return nil, fmt.Errorf("failed to update account: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, fmt.Errorf("account update failed - %w", store.ErrConcurrentModification)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	entry.Status = models.StatusCompleted
	entry.ProcessedAt = now
	return entry, nil
}

// CancelEntry transitions a pending entry to cancelled and appends a
// compensating reversal of opposite sign, releasing the held balance. The
// reversal carries cancelled status as well so both legs of the round trip
// stay out of balance reconstruction while remaining in the audit trail.
// Completed and cancelled entries cannot be cancelled.
func (s *Service) CancelEntry(ctx context.Context, entryId string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.getEntryInTx(ctx, tx, entryId)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: cannot cancel entry in status %q", store.ErrInvalidState, entry.Status)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, queryUpdateEntryStatus, models.StatusCancelled, now, entryId, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to update entry status: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("entry status changed underneath us - %w", store.ErrConcurrentModification)
	}

	_, err = s.appendInTx(ctx, tx, store.AppendParams{
		AccountId:   entry.AccountId,
		Points:      -entry.Points,
		Kind:        models.KindAdjust,
		Description: fmt.Sprintf("Reversal of cancelled entry %s", entry.Id),
		Reference:   "reversal_" + entry.Id,
		RuleId:      entry.RuleId,
		LocationId:  entry.LocationId,
	}, models.StatusCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append reversal entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger entry cancelled",
		zap.String("entry_id", entry.Id),
		zap.String("account_id", entry.AccountId),
		zap.Int64("points", entry.Points))

	entry.Status = models.StatusCancelled
	entry.ProcessedAt = now
	return entry, nil
}

func (s *Service) getEntryInTx(ctx context.Context, tx *sql.Tx, entryId string) (*models.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx, queryGetLedgerEntry, entryId)
	entry, err := scanLedgerEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ledger entry not found: %s", entryId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	return entry, nil
}

// GetLedgerHistory returns paginated entries for an account, newest first.
func (s *Service) GetLedgerHistory(ctx context.Context, accountId string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetLedgerHistory, accountId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return entries, nil
}

// Reconcile verifies that the account's balance and lifetime points are
// reconstructible from the ledger: balance must equal the sum of
// non-cancelled entries, lifetime points the sum of positive completed
// entries. This is the auditability guarantee.
func (s *Service) Reconcile(ctx context.Context, accountId string) error {
	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return err
	}

	var calculatedBalance int64
	if err := s.db.QueryRowContext(ctx, queryReconcileBalance, accountId).Scan(&calculatedBalance); err != nil {
		return fmt.Errorf("failed to calculate balance from ledger: %w", err)
	}
	var calculatedLifetime int64
	if err := s.db.QueryRowContext(ctx, queryReconcileLifetime, accountId).Scan(&calculatedLifetime); err != nil {
		return fmt.Errorf("failed to calculate lifetime points from ledger: %w", err)
	}

	if account.PointsBalance != calculatedBalance {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account_id", accountId),
			zap.Int64("current_balance", account.PointsBalance),
			zap.Int64("calculated_balance", calculatedBalance))
		return fmt.Errorf("balance mismatch: current=%d, calculated=%d", account.PointsBalance, calculatedBalance)
	}
	if account.LifetimePoints != calculatedLifetime {
		zap.L().Error("Lifetime points reconciliation failed",
			zap.String("account_id", accountId),
			zap.Int64("current_lifetime", account.LifetimePoints),
			zap.Int64("calculated_lifetime", calculatedLifetime))
		return fmt.Errorf("lifetime points mismatch: current=%d, calculated=%d", account.LifetimePoints, calculatedLifetime)
	}

	zap.L().Info("Reconciliation successful",
		zap.String("account_id", accountId),
		zap.Int64("balance", account.PointsBalance),
		zap.Int64("lifetime_points", account.LifetimePoints))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row rowScanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := row.Scan(&entry.Id, &entry.AccountId, &entry.Points, &entry.Kind,
		&entry.Description, &entry.Reference, &entry.RuleId, &entry.LocationId,
		&entry.BalanceBefore, &entry.BalanceAfter, &entry.Status,
		&entry.CreatedAt, &entry.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
