package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loyalty-rules-go/internal/models"

	"go.uber.org/zap"
)

// PointsLeaderboard ranks customers by points earned inside the period.
// Snapshot read over the ledger; no account locks are taken.
func (s *Service) PointsLeaderboard(ctx context.Context, programId string, from, to time.Time, limit int) ([]models.LeaderboardEntry, error) {
	return s.leaderboard(ctx, queryPointsLeaderboard, "points", programId, from, to, limit)
}

// VisitsLeaderboard ranks customers by check-in count inside the period.
func (s *Service) VisitsLeaderboard(ctx context.Context, programId string, from, to time.Time, limit int) ([]models.LeaderboardEntry, error) {
	return s.leaderboard(ctx, queryVisitsLeaderboard, "visits", programId, from, to, limit)
}

func (s *Service) leaderboard(ctx context.Context, query, scoreType, programId string, from, to time.Time, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, query, programId, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s leaderboard: %w", scoreType, err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LeaderboardEntry
	for rows.Next() {
		entry := models.LeaderboardEntry{ScoreType: scoreType}
		if err := rows.Scan(&entry.CustomerId, &entry.Score); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entry.Rank = len(entries) + 1
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard rows: %w", err)
	}
	return entries, nil
}
