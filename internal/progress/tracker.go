package progress

import (
	"context"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/store"

	"go.uber.org/multierr"
)

// Tracker watches accounts cross badge, achievement and challenge lines. It
// runs after ledger writes, reading the account's fresh state, so everything
// it awards is derived from committed history.
type Tracker struct {
	store store.LedgerStore
}

func NewTracker(st store.LedgerStore) *Tracker {
	return &Tracker{store: st}
}

// Summary reports what one Check pass awarded.
type Summary struct {
	BadgesAwarded       []string
	AchievementsAwarded []string
	ChallengeProgress   []models.ChallengeProgressUpdate
}

// Check runs all three progress sweeps for the account. A failing sweep does
// not block the others; errors are combined and returned alongside whatever
// was awarded.
func (t *Tracker) Check(ctx context.Context, account *models.Account, now time.Time) (*Summary, error) {
	summary := &Summary{}
	var errs error

	badges, err := t.checkBadges(ctx, account, now)
	summary.BadgesAwarded = badges
	errs = multierr.Append(errs, err)

	achievements, err := t.checkAchievements(ctx, account, now)
	summary.AchievementsAwarded = achievements
	errs = multierr.Append(errs, err)

	updates, err := t.checkChallenges(ctx, account, now)
	summary.ChallengeProgress = updates
	errs = multierr.Append(errs, err)

	return summary, errs
}

// ExpireOverdue sweeps active challenge records whose challenge window has
// closed. Intended for a periodic job, not the event path.
func (t *Tracker) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	return t.store.ExpireOverdueChallenges(ctx, now)
}
