package database

import (
	"context"
	"database/sql"
	"fmt"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetAccount returns the account by id.
func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, queryGetAccount, accountId)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// FindAccount returns the account for one (customer, program) pair.
func (s *Service) FindAccount(ctx context.Context, customerId, programId string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, queryFindAccount, customerId, programId)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: customer %s in program %s", store.ErrAccountNotFound, customerId, programId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// GetOrCreateAccount returns the existing account for the pair or creates a
// fresh zero-balance one. The unique (customer, program) index makes the
// create race-safe: a concurrent loser re-reads the winner's row.
func (s *Service) GetOrCreateAccount(ctx context.Context, customerId, programId string) (*models.Account, error) {
	account, err := s.FindAccount(ctx, customerId, programId)
	if err == nil {
		return account, nil
	}

	accountId := uuid.New().String()
	_, err = s.db.ExecContext(ctx, queryInsertAccount, accountId, customerId, programId)
	if err != nil {
		// Unique index violation means a concurrent creator won.
		if existing, findErr := s.FindAccount(ctx, customerId, programId); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	zap.L().Info("Loyalty account created",
		zap.String("account_id", accountId),
		zap.String("customer_id", customerId),
		zap.String("program_id", programId))

	return s.GetAccount(ctx, accountId)
}

// GetProgramAccounts returns every account in a program, highest balance
// first. Reporting only; the event path never lists accounts.
func (s *Service) GetProgramAccounts(ctx context.Context, programId string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, queryGetProgramAccounts, programId)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}
	return accounts, nil
}

// DeactivateAccount soft-deactivates an account. Accounts are never deleted.
func (s *Service) DeactivateAccount(ctx context.Context, accountId string) error {
	result, err := s.db.ExecContext(ctx, queryDeactivateAccount, accountId)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	return nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	var lastActivity sql.NullTime
	err := row.Scan(&account.Id, &account.CustomerId, &account.ProgramId,
		&account.PointsBalance, &account.LifetimePoints, &account.TierId,
		&lastActivity, &account.Version, &account.Active,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		account.LastActivity = lastActivity.Time
	}
	return &account, nil
}
