package progress

import (
	"context"
	"time"
)

// maxStreakDays bounds the backward scan; streaks older than this are
// treated as broken.
const maxStreakDays = 30

// visitStreak counts consecutive days with a recorded visit, ending today.
// Unlike the rule engine's prospective streak, this only sees the ledger, so
// it is called after the event's entry has been appended.
func (t *Tracker) visitStreak(ctx context.Context, accountId string, now time.Time) (int, error) {
	streak := 0
	for i := 0; i <= maxStreakDays; i++ {
		day := now.AddDate(0, 0, -i)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		visited, err := t.store.VisitOnDay(ctx, accountId, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			return 0, err
		}
		if !visited {
			break
		}
		streak++
	}
	return streak, nil
}
