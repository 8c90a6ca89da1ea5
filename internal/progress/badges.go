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

// badgeCriteria is the parsed criteria document of a badge definition.
type badgeCriteria struct {
	Type      string `json:"type"`
	Threshold int64  `json:"threshold"`
	// Seasonal badges additionally carry a yearly MM-DD window.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Badge criteria types.
const (
	badgeMilestone = "milestone"
	badgeFrequency = "frequency"
	badgeStreak    = "streak"
	badgeSeasonal  = "seasonal"
)

// checkBadges awards every active badge whose criteria the account now
// meets. Already-held badges are skipped before any criteria work.
func (t *Tracker) checkBadges(ctx context.Context, account *models.Account, now time.Time) ([]string, error) {
	badges, err := t.store.GetActiveBadges(ctx, account.ProgramId)
	if err != nil {
		return nil, err
	}

	var awarded []string
	for _, badge := range badges {
		record, err := t.store.GetProgressRecord(ctx, account.CustomerId, badge.Id)
		if err != nil {
			return awarded, err
		}
		if record != nil {
			continue
		}

		met, target, err := t.badgeCriteriaMet(ctx, account, badge, now)
		if err != nil {
			return awarded, err
		}
		if !met {
			continue
		}

		_, err = t.store.Award(ctx, store.AwardParams{
			CustomerId:     account.CustomerId,
			AccountId:      account.Id,
			DefinitionKind: models.DefinitionBadge,
			DefinitionId:   badge.Id,
			Target:         target,
			PointsReward:   badge.PointsReward,
			Description:    fmt.Sprintf("Badge earned: %s", badge.Name),
			Reference:      "badge_" + badge.Id,
			Now:            now,
		})
		if errors.Is(err, store.ErrDuplicateAward) || errors.Is(err, store.ErrDuplicateEntry) {
			// A concurrent processor won the race; the badge is held either way.
			continue
		} else if err != nil {
			return awarded, err
		}
		awarded = append(awarded, badge.Name)
	}
	return awarded, nil
}

// badgeCriteriaMet evaluates one badge's criteria against the ledger. An
// unrecognized criteria type never matches; bad documents are reported, not
// skipped silently.
func (t *Tracker) badgeCriteriaMet(ctx context.Context, account *models.Account, badge models.Badge, now time.Time) (bool, int64, error) {
	var criteria badgeCriteria
	if err := json.Unmarshal([]byte(badge.Criteria), &criteria); err != nil {
		return false, 0, fmt.Errorf("badge %s has invalid criteria: %w", badge.Id, err)
	}

	switch criteria.Type {
	case badgeMilestone:
		return account.LifetimePoints >= criteria.Threshold, criteria.Threshold, nil

	case badgeFrequency:
		visits, err := t.store.CountVisits(ctx, account.Id)
		if err != nil {
			return false, 0, err
		}
		return int64(visits) >= criteria.Threshold, criteria.Threshold, nil

	case badgeStreak:
		streak, err := t.visitStreak(ctx, account.Id, now)
		if err != nil {
			return false, 0, err
		}
		return int64(streak) >= criteria.Threshold, criteria.Threshold, nil

	case badgeSeasonal:
		monthDay := now.Format("01-02")
		var inSeason bool
		if criteria.Start <= criteria.End {
			inSeason = monthDay >= criteria.Start && monthDay <= criteria.End
		} else {
			inSeason = monthDay >= criteria.Start || monthDay <= criteria.End
		}
		if !inSeason {
			return false, criteria.Threshold, nil
		}
		from, to, err := seasonBounds(criteria.Start, criteria.End, now)
		if err != nil {
			return false, 0, fmt.Errorf("badge %s: %w", badge.Id, err)
		}
		visits, err := t.store.CountVisitsBetween(ctx, account.Id, from, to)
		if err != nil {
			return false, 0, err
		}
		return int64(visits) >= criteria.Threshold, criteria.Threshold, nil

	default:
		zap.L().Warn("Unknown badge criteria type",
			zap.String("badge_id", badge.Id),
			zap.String("criteria_type", criteria.Type))
		return false, 0, nil
	}
}

// seasonBounds resolves a yearly MM-DD window to concrete timestamps around
// now. A window wrapping the new year starts in the previous year when now
// falls in its early part.
func seasonBounds(start, end string, now time.Time) (time.Time, time.Time, error) {
	startDay, err := time.Parse("01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid season start %q", start)
	}
	endDay, err := time.Parse("01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid season end %q", end)
	}

	year := now.Year()
	from := time.Date(year, startDay.Month(), startDay.Day(), 0, 0, 0, 0, now.Location())
	to := time.Date(year, endDay.Month(), endDay.Day(), 23, 59, 59, 0, now.Location())
	if start > end {
		// Wrapped season: before the wrap point the window started last year,
		// after it the window ends next year.
		if now.Format("01-02") <= end {
			from = from.AddDate(-1, 0, 0)
		} else {
			to = to.AddDate(1, 0, 0)
		}
	}
	return from, to, nil
}
