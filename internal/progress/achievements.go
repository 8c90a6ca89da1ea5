package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"go.uber.org/zap"
)

// achievementCriteria is the parsed criteria document of an achievement.
type achievementCriteria struct {
	Type      string `json:"type"`
	Threshold int64  `json:"threshold,omitempty"`
	Days      int    `json:"days,omitempty"`
}

// Achievement criteria types.
const (
	achievementFirstTime   = "first_time"
	achievementMilestone   = "milestone"
	achievementPerfectWeek = "perfect_week"
	achievementSpeed       = "speed"
	achievementConsistency = "consistency"
)

// checkAchievements awards every active achievement the account now
// qualifies for. Like badges, achievements are one-time awards.
func (t *Tracker) checkAchievements(ctx context.Context, account *models.Account, now time.Time) ([]string, error) {
	achievements, err := t.store.GetActiveAchievements(ctx, account.ProgramId)
	if err != nil {
		return nil, err
	}

	var awarded []string
	for _, achievement := range achievements {
		record, err := t.store.GetProgressRecord(ctx, account.CustomerId, achievement.Id)
		if err != nil {
			return awarded, err
		}
		if record != nil {
			continue
		}

		met, target, err := t.achievementCriteriaMet(ctx, account, achievement, now)
		if err != nil {
			return awarded, err
		}
		if !met {
			continue
		}

		_, err = t.store.Award(ctx, store.AwardParams{
			CustomerId:     account.CustomerId,
			AccountId:      account.Id,
			DefinitionKind: models.DefinitionAchievement,
			DefinitionId:   achievement.Id,
			Target:         target,
			PointsReward:   achievement.PointsReward,
			Description:    fmt.Sprintf("Achievement unlocked: %s", achievement.Name),
			Reference:      "achievement_" + achievement.Id,
			Now:            now,
		})
		if errors.Is(err, store.ErrDuplicateAward) || errors.Is(err, store.ErrDuplicateEntry) {
			continue
		} else if err != nil {
			return awarded, err
		}
		awarded = append(awarded, achievement.Name)

		if achievement.BadgeRewardId != "" {
			if err := t.awardLinkedBadge(ctx, account, achievement.BadgeRewardId, now); err != nil {
				return awarded, err
			}
		}
	}
	return awarded, nil
}

func (t *Tracker) achievementCriteriaMet(ctx context.Context, account *models.Account, achievement models.Achievement, now time.Time) (bool, int64, error) {
	var criteria achievementCriteria
	if err := json.Unmarshal([]byte(achievement.Criteria), &criteria); err != nil {
		return false, 0, fmt.Errorf("achievement %s has invalid criteria: %w", achievement.Id, err)
	}

	switch criteria.Type {
	case achievementFirstTime:
		first, err := t.store.FirstEntryTime(ctx, account.Id)
		if err != nil {
			return false, 0, err
		}
		return !first.IsZero(), 1, nil

	case achievementMilestone:
		return account.LifetimePoints >= criteria.Threshold, criteria.Threshold, nil

	case achievementPerfectWeek:
		from := now.AddDate(0, 0, -6)
		days, err := t.store.CountDistinctVisitDays(ctx, account.Id, startOfDay(from), now)
		if err != nil {
			return false, 0, err
		}
		return days >= 7, 7, nil

	case achievementSpeed:
		if account.LifetimePoints < criteria.Threshold {
			return false, criteria.Threshold, nil
		}
		first, err := t.store.FirstEntryTime(ctx, account.Id)
		if err != nil {
			return false, 0, err
		}
		if first.IsZero() {
			return false, criteria.Threshold, nil
		}
		within := now.Sub(first) <= time.Duration(criteria.Days)*24*time.Hour
		return within, criteria.Threshold, nil

	case achievementConsistency:
		from := startOfDay(now.AddDate(0, 0, -(criteria.Days - 1)))
		days, err := t.store.CountDistinctVisitDays(ctx, account.Id, from, now)
		if err != nil {
			return false, 0, err
		}
		return int64(days) >= criteria.Threshold, criteria.Threshold, nil

	default:
		zap.L().Warn("Unknown achievement criteria type",
			zap.String("achievement_id", achievement.Id),
			zap.String("criteria_type", criteria.Type))
		return false, 0, nil
	}
}

// awardLinkedBadge grants the badge attached to an achievement or challenge
// reward. Holding it already is not an error.
func (t *Tracker) awardLinkedBadge(ctx context.Context, account *models.Account, badgeId string, now time.Time) error {
	badge, err := t.store.GetBadge(ctx, badgeId)
	if errors.Is(err, store.ErrReferenceDataMissing) {
		zap.L().Warn("Reward badge does not exist", zap.String("badge_id", badgeId))
		return nil
	} else if err != nil {
		return err
	}

	_, err = t.store.Award(ctx, store.AwardParams{
		CustomerId:     account.CustomerId,
		AccountId:      account.Id,
		DefinitionKind: models.DefinitionBadge,
		DefinitionId:   badge.Id,
		Target:         1,
		PointsReward:   badge.PointsReward,
		Description:    fmt.Sprintf("Badge earned: %s", badge.Name),
		Reference:      "badge_" + badge.Id,
		Now:            now,
	})
	if errors.Is(err, store.ErrDuplicateAward) || errors.Is(err, store.ErrDuplicateEntry) {
		return nil
	}
	return err
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
