package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

// DefaultExecutionLimit is the page size of the execution log when no range is given.
const DefaultExecutionLimit = 20

// ExecutionFilter selects log entries. From and To are calendar days; To is inclusive.
type ExecutionFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

// AppendExecution writes one log entry. ID and ExecutedAt are assigned when empty.
func (s *Store) AppendExecution(ctx context.Context, e engine.Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = s.now()
	}
	if e.AdObjectType == "" {
		e.AdObjectType = engine.AdObjectCampaign
	}
	b := s.sb.Insert("rule_executions").
		Columns("id", "rule_id", "ad_object_id", "ad_object_type", "ad_object_name", "executed_at", "was_successful", "message").
		Values(e.ID, optString(e.RuleID), e.AdObjectID, e.AdObjectType, e.AdObjectName, s.timeArg(e.ExecutedAt), e.WasSuccessful, e.Message)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := exec(ctx, tx, b)
		return err
	})
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

// QueryExecutions returns log entries newest first, each with the name of its rule.
// Entries whose rule is gone carry a placeholder name.
func (s *Store) QueryExecutions(ctx context.Context, f ExecutionFilter) ([]engine.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	b := s.sb.Select(
		"e.id", "e.rule_id", "r.name", "e.ad_object_id", "e.ad_object_type",
		"e.ad_object_name", "e.executed_at", "e.was_successful", "e.message",
	).
		From("rule_executions e").
		LeftJoin("rules r ON r.id = e.rule_id").
		OrderBy("e.executed_at DESC", "e.id")

	if f.From != nil {
		b = b.Where(sq.GtOrEq{"e.executed_at": s.timeArg(startOfDay(*f.From))})
	}
	if f.To != nil {
		b = b.Where(sq.Lt{"e.executed_at": s.timeArg(startOfDay(*f.To).AddDate(0, 0, 1))})
	}
	limit := f.Limit
	if limit <= 0 && f.From == nil && f.To == nil {
		limit = DefaultExecutionLimit
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	rows, err := query(ctx, s.db, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Execution
	for rows.Next() {
		var (
			e            engine.Execution
			ruleID, name sql.NullString
			message      sql.NullString
			executedAt   nullTime
		)
		if err := rows.Scan(&e.ID, &ruleID, &name, &e.AdObjectID, &e.AdObjectType,
			&e.AdObjectName, &executedAt, &e.WasSuccessful, &message); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.RuleID = ruleID.String
		e.RuleName = displayName(e.RuleID, name)
		e.ExecutedAt = executedAt.Time
		e.Message = message.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func displayName(ruleID string, name sql.NullString) string {
	switch {
	case name.Valid:
		return name.String
	case ruleID == "":
		return "Unknown rule"
	}
	return fmt.Sprintf("Rule %s (deleted)", ruleID)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
