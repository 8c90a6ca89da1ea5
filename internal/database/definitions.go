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

// CreateBadge stores a badge definition. Badge names are unique per program.
func (s *Service) CreateBadge(ctx context.Context, badge models.Badge) (*models.Badge, error) {
	if badge.Id == "" {
		badge.Id = uuid.New().String()
	}
	if badge.Rarity == "" {
		badge.Rarity = "common"
	}
	if badge.Criteria == "" {
		badge.Criteria = "{}"
	}
	badge.Active = true
	badge.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, queryInsertBadge,
		badge.Id, badge.ProgramId, badge.Name, badge.Description, badge.BadgeType,
		badge.Rarity, badge.PointsReward, badge.Criteria, badge.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to create badge: %w", err)
	}

	zap.L().Info("Badge created",
		zap.String("badge_id", badge.Id),
		zap.String("program_id", badge.ProgramId),
		zap.String("name", badge.Name))
	return &badge, nil
}

func (s *Service) GetBadge(ctx context.Context, badgeId string) (*models.Badge, error) {
	badge, err := scanBadge(s.db.QueryRowContext(ctx, queryGetBadge, badgeId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: badge %s", store.ErrReferenceDataMissing, badgeId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get badge: %w", err)
	}
	return badge, nil
}

func (s *Service) GetActiveBadges(ctx context.Context, programId string) ([]models.Badge, error) {
	rows, err := s.db.QueryContext(ctx, queryGetActiveBadges, programId)
	if err != nil {
		return nil, fmt.Errorf("failed to get badges: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var badges []models.Badge
	for rows.Next() {
		badge, err := scanBadge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		badges = append(badges, *badge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating badge rows: %w", err)
	}
	return badges, nil
}

// CreateChallenge stores a time-boxed challenge definition. Challenges must
// carry an explicit window; enrollment and expiry both key off it.
func (s *Service) CreateChallenge(ctx context.Context, challenge models.Challenge) (*models.Challenge, error) {
	if challenge.TargetValue <= 0 {
		return nil, fmt.Errorf("challenge target must be positive, got %d", challenge.TargetValue)
	}
	if challenge.StartDate.IsZero() || challenge.EndDate.IsZero() {
		return nil, fmt.Errorf("challenge requires start and end dates")
	}
	if challenge.Id == "" {
		challenge.Id = uuid.New().String()
	}
	if challenge.Difficulty == "" {
		challenge.Difficulty = "medium"
	}
	challenge.Active = true
	challenge.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, queryInsertChallenge,
		challenge.Id, challenge.ProgramId, challenge.Name, challenge.Description,
		challenge.ChallengeType, challenge.Difficulty, challenge.TargetValue,
		challenge.PointsReward, challenge.BadgeRewardId,
		challenge.StartDate, challenge.EndDate, challenge.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	zap.L().Info("Challenge created",
		zap.String("challenge_id", challenge.Id),
		zap.String("program_id", challenge.ProgramId),
		zap.String("name", challenge.Name),
		zap.Int64("target", challenge.TargetValue))
	return &challenge, nil
}

// GetOngoingChallenges returns active challenges whose window contains the
// given instant.
func (s *Service) GetOngoingChallenges(ctx context.Context, programId string, at time.Time) ([]models.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, queryGetOngoingChallenges, programId, at, at)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenges: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var challenges []models.Challenge
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, *challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenge rows: %w", err)
	}
	return challenges, nil
}

// CreateAchievement stores an achievement definition. Names are unique per
// program.
func (s *Service) CreateAchievement(ctx context.Context, achievement models.Achievement) (*models.Achievement, error) {
	if achievement.Id == "" {
		achievement.Id = uuid.New().String()
	}
	if achievement.Criteria == "" {
		achievement.Criteria = "{}"
	}
	achievement.Active = true
	achievement.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, queryInsertAchievement,
		achievement.Id, achievement.ProgramId, achievement.Name, achievement.Description,
		achievement.AchievementType, achievement.PointsReward, achievement.BadgeRewardId,
		achievement.Criteria, achievement.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to create achievement: %w", err)
	}

	zap.L().Info("Achievement created",
		zap.String("achievement_id", achievement.Id),
		zap.String("program_id", achievement.ProgramId),
		zap.String("name", achievement.Name))
	return &achievement, nil
}

func (s *Service) GetActiveAchievements(ctx context.Context, programId string) ([]models.Achievement, error) {
	rows, err := s.db.QueryContext(ctx, queryGetActiveAchievements, programId)
	if err != nil {
		return nil, fmt.Errorf("failed to get achievements: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var achievements []models.Achievement
	for rows.Next() {
		achievement, err := scanAchievement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		achievements = append(achievements, *achievement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating achievement rows: %w", err)
	}
	return achievements, nil
}

func scanBadge(row rowScanner) (*models.Badge, error) {
	var badge models.Badge
	err := row.Scan(&badge.Id, &badge.ProgramId, &badge.Name, &badge.Description,
		&badge.BadgeType, &badge.Rarity, &badge.PointsReward, &badge.Criteria,
		&badge.Active, &badge.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &badge, nil
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var challenge models.Challenge
	err := row.Scan(&challenge.Id, &challenge.ProgramId, &challenge.Name,
		&challenge.Description, &challenge.ChallengeType, &challenge.Difficulty,
		&challenge.TargetValue, &challenge.PointsReward, &challenge.BadgeRewardId,
		&challenge.StartDate, &challenge.EndDate, &challenge.Active, &challenge.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

func scanAchievement(row rowScanner) (*models.Achievement, error) {
	var achievement models.Achievement
	err := row.Scan(&achievement.Id, &achievement.ProgramId, &achievement.Name,
		&achievement.Description, &achievement.AchievementType, &achievement.PointsReward,
		&achievement.BadgeRewardId, &achievement.Criteria, &achievement.Active,
		&achievement.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &achievement, nil
}
