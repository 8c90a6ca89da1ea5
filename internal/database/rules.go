package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loyalty-rules-go/internal/models"
	"loyalty-rules-go/internal/rules"
	"loyalty-rules-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateRule validates the conditions document and stores the rule.
// Malformed conditions are rejected here, at configuration time, so the
// engine never sees a rule it cannot parse.
func (s *Service) CreateRule(ctx context.Context, rule models.Rule) (*models.Rule, error) {
	if rule.ProgramId == "" {
		return nil, fmt.Errorf("rule program id cannot be empty")
	}
	if rule.Conditions == "" {
		return nil, fmt.Errorf("%w: rule %q has no conditions document", store.ErrMalformedConditions, rule.Name)
	}
	if _, err := rules.ParseConditions([]byte(rule.Conditions)); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrMalformedConditions, err)
	}

	if rule.Id == "" {
		rule.Id = uuid.New().String()
	}
	if rule.RuleType == "" {
		rule.RuleType = models.KindEarn
	}
	rule.Active = true
	now := time.Now()
	if rule.StartDate.IsZero() {
		rule.StartDate = now
	}

	var endDate any
	if !rule.EndDate.IsZero() {
		endDate = rule.EndDate
	}

	_, err := s.db.ExecContext(ctx, queryInsertRule,
		rule.Id, rule.ProgramId, rule.Name, rule.Description, rule.RuleType,
		rule.TriggerEvent, rule.Conditions, rule.BasePoints, rule.Priority,
		rule.LocationBased, rule.StartDate, endDate, rule.Active, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	zap.L().Info("Rule created",
		zap.String("rule_id", rule.Id),
		zap.String("program_id", rule.ProgramId),
		zap.String("name", rule.Name),
		zap.Int64("priority", rule.Priority))

	return s.getRule(ctx, rule.Id)
}

func (s *Service) getRule(ctx context.Context, ruleId string) (*models.Rule, error) {
	row := s.db.QueryRowContext(ctx, queryGetRule, ruleId)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule not found: %s", ruleId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// GetActiveRules returns the rules in force for a program at the given
// instant, ordered by priority descending then creation time ascending.
func (s *Service) GetActiveRules(ctx context.Context, programId string, at time.Time) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, queryGetActiveRules, programId, at, at)
	if err != nil {
		return nil, fmt.Errorf("failed to get active rules: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var result []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule rows: %w", err)
	}
	return result, nil
}

// DeactivateRule soft-deactivates a rule. Rules referenced by ledger entries
// are never hard-deleted, preserving the audit trail.
func (s *Service) DeactivateRule(ctx context.Context, ruleId string) error {
	result, err := s.db.ExecContext(ctx, queryDeactivateRule, ruleId)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("rule not found: %s", ruleId)
	}
	return nil
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var rule models.Rule
	var endDate sql.NullTime
	err := row.Scan(&rule.Id, &rule.ProgramId, &rule.Name, &rule.Description,
		&rule.RuleType, &rule.TriggerEvent, &rule.Conditions, &rule.BasePoints,
		&rule.Priority, &rule.LocationBased, &rule.StartDate, &endDate,
		&rule.Active, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		rule.EndDate = endDate.Time
	}
	return &rule, nil
}
