package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// History reads used by the rule evaluators and progress engines. These run
// on a plain read snapshot; no account locks are taken.

// CountRuleEntries counts completed entries attributed to a rule since a
// point in time (frequency limits).
func (s *Service) CountRuleEntries(ctx context.Context, accountId, ruleId string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountRuleEntries, accountId, ruleId, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rule entries: %w", err)
	}
	return count, nil
}

// RuleEntryOnDay reports whether the rule produced a completed entry within
// [dayStart, dayEnd) (streak scans).
func (s *Service) RuleEntryOnDay(ctx context.Context, accountId, ruleId string, dayStart, dayEnd time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, queryRuleEntryOnDay, accountId, ruleId, dayStart, dayEnd).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe rule entry on day: %w", err)
	}
	return exists != 0, nil
}

// CountActionEntries counts completed earn entries whose description contains
// the keyword, within a rolling window (combo rules).
func (s *Service) CountActionEntries(ctx context.Context, accountId, keyword string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountActionEntries, accountId, keyword, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count action entries: %w", err)
	}
	return count, nil
}

// CountDistinctLocations counts distinct locations visited within a rolling
// window (location-chain rules).
func (s *Service) CountDistinctLocations(ctx context.Context, accountId string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountDistinctLocations, accountId, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct locations: %w", err)
	}
	return count, nil
}

// LocationVisited reports whether the account already has a completed earn
// entry at this location since the given time.
func (s *Service) LocationVisited(ctx context.Context, accountId, locationId string, since time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, queryLocationVisited, accountId, locationId, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe location visit: %w", err)
	}
	return exists != 0, nil
}

// MilestoneAwarded reports whether a milestone marker was already paid out
// for this rule. Cancelled markers do not count.
func (s *Service) MilestoneAwarded(ctx context.Context, accountId, ruleId, marker string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, queryMilestoneAwarded, accountId, ruleId, marker).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe milestone marker: %w", err)
	}
	return exists != 0, nil
}

// CountVisits counts all completed check-in entries for an account.
func (s *Service) CountVisits(ctx context.Context, accountId string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountVisits, accountId).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count visits: %w", err)
	}
	return count, nil
}

// CountEntries counts completed entries since a point in time.
func (s *Service) CountEntries(ctx context.Context, accountId string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountEntries, accountId, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// CountEntriesByKind counts all completed entries of one kind.
func (s *Service) CountEntriesByKind(ctx context.Context, accountId, kind string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountEntriesByKind, accountId, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries by kind: %w", err)
	}
	return count, nil
}

// SumEarnedBetween sums positive completed points within a date range
// (challenge progress replay).
func (s *Service) SumEarnedBetween(ctx context.Context, accountId string, from, to time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, querySumEarnedBetween, accountId, from, to).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum earned points: %w", err)
	}
	return sum, nil
}

// CountVisitsBetween counts check-ins within a date range.
func (s *Service) CountVisitsBetween(ctx context.Context, accountId string, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountVisitsBetween, accountId, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count visits in range: %w", err)
	}
	return count, nil
}

// CountDistinctVisitDays counts the distinct calendar days with at least one
// check-in inside a date range (perfect-attendance achievements).
func (s *Service) CountDistinctVisitDays(ctx context.Context, accountId string, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountDistinctVisitDays, accountId, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct visit days: %w", err)
	}
	return count, nil
}

// VisitOnDay reports whether the account checked in within [dayStart, dayEnd).
func (s *Service) VisitOnDay(ctx context.Context, accountId string, dayStart, dayEnd time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, queryVisitOnDay, accountId, dayStart, dayEnd).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe visit on day: %w", err)
	}
	return exists != 0, nil
}

// FirstEntryTime returns the timestamp of the account's earliest completed
// entry, or the zero time if the ledger is empty. SQLite returns the MIN()
// aggregate as text, so the value is parsed by hand.
func (s *Service) FirstEntryTime(ctx context.Context, accountId string) (time.Time, error) {
	var timestampStr sql.NullString
	err := s.db.QueryRowContext(ctx, queryFirstEntryTime, accountId).Scan(&timestampStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get first entry time: %w", err)
	}
	if !timestampStr.Valid || timestampStr.String == "" {
		return time.Time{}, nil
	}

	// SQLite stores timestamps with a space instead of T; try its formats
	// first, then RFC3339 variants.
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		time.RFC3339Nano,
		time.RFC3339,
	} {
		if parsed, err := time.Parse(layout, timestampStr.String); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", timestampStr.String)
}
