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

var ruleColumns = []string{
	"id", "name", "description", "is_composite",
	"primary_metric", "primary_operator", "primary_value",
	"secondary_metric", "secondary_operator", "secondary_value", "join_operator",
	"action_type", "action_value", "is_active",
	"execution_mode", "execution_interval_hours", "last_automatic_run_at",
	"created_at", "updated_at",
}

// CreateRule validates the draft and persists it, returning the new rule id.
func (s *Store) CreateRule(ctx context.Context, d engine.RuleDraft) (string, error) {
	r, err := d.Rule()
	if err != nil {
		return "", err
	}
	r.ID = uuid.NewString()
	now := s.now()

	var secMetric, secOp any
	var secValue any
	if r.Secondary != nil {
		secMetric, secOp, secValue = string(r.Secondary.Metric), string(r.Secondary.Operator), r.Secondary.Value
	}

	b := s.sb.Insert("rules").Columns(ruleColumns...).Values(
		r.ID, r.Name, r.Description, r.Composite,
		string(r.Primary.Metric), string(r.Primary.Operator), r.Primary.Value,
		secMetric, secOp, secValue, string(r.Join),
		string(r.Action), optFloat(r.ActionValue), r.IsActive,
		string(r.Mode), optInt(r.IntervalHours), nil,
		s.timeArg(now), s.timeArg(now),
	)
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := exec(ctx, tx, b)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert rule: %w", err)
	}
	return r.ID, nil
}

// ListRules returns every rule, newest first.
func (s *Store) ListRules(ctx context.Context) ([]engine.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := query(ctx, s.db, s.sb.Select(ruleColumns...).From("rules").OrderBy("created_at DESC", "id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// GetRule loads one rule; a missing id yields engine.ErrNotFound.
func (s *Store) GetRule(ctx context.Context, id string) (engine.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := query(ctx, s.db, s.sb.Select(ruleColumns...).From("rules").Where(sq.Eq{"id": id}))
	if err != nil {
		return engine.Rule{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return engine.Rule{}, err
		}
		return engine.Rule{}, fmt.Errorf("rule %s: %w", id, engine.ErrNotFound)
	}
	return scanRule(rows)
}

// DeleteRule removes a rule. Its execution history is kept. Reports false if the id is absent.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) (err error) {
		n, err = exec(ctx, tx, s.sb.Delete("rules").Where(sq.Eq{"id": id}))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	return n > 0, nil
}

// SetRuleActive flips the active flag. Reports false if the id is absent.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) (bool, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) (err error) {
		n, err = exec(ctx, tx, s.sb.Update("rules").
			Set("is_active", active).
			Set("updated_at", s.timeArg(s.now())).
			Where(sq.Eq{"id": id}))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("toggle rule: %w", err)
	}
	return n > 0, nil
}

// MarkAutomaticRun records that the rule completed a sweep at the given instant.
func (s *Store) MarkAutomaticRun(ctx context.Context, id string, at time.Time) error {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) (err error) {
		n, err = exec(ctx, tx, s.sb.Update("rules").
			Set("last_automatic_run_at", s.timeArg(at)).
			Set("updated_at", s.timeArg(at)).
			Where(sq.Eq{"id": id}))
		return err
	})
	if err != nil {
		return fmt.Errorf("mark rule run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", id, engine.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (engine.Rule, error) {
	var (
		r                         engine.Rule
		description               sql.NullString
		primaryMetric, primaryOp  string
		secMetric, secOp, join    sql.NullString
		secValue, actionValue     sql.NullFloat64
		action, mode              string
		interval                  sql.NullInt64
		lastRun, created, updated nullTime
	)
	err := row.Scan(
		&r.ID, &r.Name, &description, &r.Composite,
		&primaryMetric, &primaryOp, &r.Primary.Value,
		&secMetric, &secOp, &secValue, &join,
		&action, &actionValue, &r.IsActive,
		&mode, &interval, &lastRun,
		&created, &updated,
	)
	if err != nil {
		return engine.Rule{}, fmt.Errorf("scan rule: %w", err)
	}

	r.Description = description.String
	r.Primary.Metric = engine.Metric(primaryMetric)
	r.Primary.Operator = engine.Operator(primaryOp)
	if secMetric.Valid && secOp.Valid && secValue.Valid {
		r.Secondary = &engine.Condition{
			Metric:   engine.Metric(secMetric.String),
			Operator: engine.Operator(secOp.String),
			Value:    secValue.Float64,
		}
	}
	r.Join = engine.JoinAnd
	if join.Valid && join.String != "" {
		r.Join = engine.JoinOperator(join.String)
	}
	r.Action = engine.ActionType(action)
	if actionValue.Valid {
		v := actionValue.Float64
		r.ActionValue = &v
	}
	r.Mode = engine.ExecutionMode(mode)
	if interval.Valid {
		h := int(interval.Int64)
		r.IntervalHours = &h
	}
	r.LastAutomaticRunAt = lastRun.Ptr()
	r.CreatedAt = created.Time
	r.UpdatedAt = updated.Time
	return r, nil
}

func optFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func optInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func optString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
