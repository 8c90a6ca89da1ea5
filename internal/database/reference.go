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

func (s *Service) CreateProgram(ctx context.Context, name, timezone string) (*models.Program, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	programId := uuid.New().String()
	if _, err := s.db.ExecContext(ctx, queryInsertProgram, programId, name, timezone); err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	zap.L().Info("Program created", zap.String("program_id", programId), zap.String("name", name))
	return s.GetProgram(ctx, programId)
}

func (s *Service) GetProgram(ctx context.Context, programId string) (*models.Program, error) {
	var program models.Program
	err := s.db.QueryRowContext(ctx, queryGetProgram, programId).Scan(
		&program.Id, &program.Name, &program.Timezone, &program.Active,
		&program.CreatedAt, &program.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: program %s", store.ErrReferenceDataMissing, programId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	return &program, nil
}

func (s *Service) CreateTier(ctx context.Context, programId, name string, threshold int64) (*models.Tier, error) {
	tierId := uuid.New().String()
	if _, err := s.db.ExecContext(ctx, queryInsertTier, tierId, programId, name, threshold); err != nil {
		return nil, fmt.Errorf("failed to create tier: %w", err)
	}
	return s.GetTier(ctx, tierId)
}

// GetTiers returns a program's tiers ordered by points threshold ascending.
func (s *Service) GetTiers(ctx context.Context, programId string) ([]models.Tier, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTiers, programId)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiers: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var tiers []models.Tier
	for rows.Next() {
		var tier models.Tier
		if err := rows.Scan(&tier.Id, &tier.ProgramId, &tier.Name, &tier.PointsThreshold, &tier.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		tiers = append(tiers, tier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tier rows: %w", err)
	}
	return tiers, nil
}

func (s *Service) GetTier(ctx context.Context, tierId string) (*models.Tier, error) {
	var tier models.Tier
	err := s.db.QueryRowContext(ctx, queryGetTier, tierId).Scan(
		&tier.Id, &tier.ProgramId, &tier.Name, &tier.PointsThreshold, &tier.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: tier %s", store.ErrReferenceDataMissing, tierId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}
	return &tier, nil
}

func (s *Service) CreateLocation(ctx context.Context, programId, name string) (*models.Location, error) {
	locationId := uuid.New().String()
	if _, err := s.db.ExecContext(ctx, queryInsertLocation, locationId, programId, name); err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	return s.GetLocation(ctx, locationId)
}

func (s *Service) GetLocation(ctx context.Context, locationId string) (*models.Location, error) {
	var location models.Location
	err := s.db.QueryRowContext(ctx, queryGetLocation, locationId).Scan(
		&location.Id, &location.ProgramId, &location.Name, &location.Active, &location.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: location %s", store.ErrReferenceDataMissing, locationId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return &location, nil
}
