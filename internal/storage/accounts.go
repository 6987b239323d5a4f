package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

var accountColumns = []string{
	"id", "name", "app_id", "app_secret", "access_token", "account_id",
	"business_id", "page_id", "is_active", "last_updated", "token_expires_at",
}

// CreateAccount stores a credential set. The first account stored becomes the active one.
func (s *Store) CreateAccount(ctx context.Context, a engine.Account) (engine.Account, error) {
	a.Name = strings.TrimSpace(a.Name)
	a.AccountID = strings.TrimPrefix(strings.TrimSpace(a.AccountID), "act_")
	if err := a.Validate(); err != nil {
		return engine.Account{}, err
	}
	a.ID = uuid.NewString()
	a.UpdatedAt = s.now().UTC()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		q, args, err := s.sb.Select("COUNT(*)").From("api_config").ToSql()
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		a.IsActive = n == 0

		_, err = exec(ctx, tx, s.sb.Insert("api_config").Columns(accountColumns...).Values(
			a.ID, a.Name, a.AppID, a.AppSecret, a.AccessToken, a.AccountID,
			optString(a.BusinessID), optString(a.PageID), a.IsActive,
			s.timeArg(a.UpdatedAt), s.dateArg(a.TokenExpiresAt),
		))
		return err
	})
	if err != nil {
		return engine.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

// ListAccounts returns every account ordered by name.
func (s *Store) ListAccounts(ctx context.Context) ([]engine.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.selectAccounts(ctx, s.db, s.sb.Select(accountColumns...).From("api_config").OrderBy("name", "id"))
}

// GetAccount loads one account; a missing id yields engine.ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, id string) (engine.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	out, err := s.selectAccounts(ctx, s.db, s.sb.Select(accountColumns...).From("api_config").Where(sq.Eq{"id": id}))
	if err != nil {
		return engine.Account{}, err
	}
	if len(out) == 0 {
		return engine.Account{}, fmt.Errorf("account %s: %w", id, engine.ErrNotFound)
	}
	return out[0], nil
}

// ActiveAccount returns the account flagged active, or engine.ErrNotFound when there is none.
func (s *Store) ActiveAccount(ctx context.Context) (engine.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	out, err := s.selectAccounts(ctx, s.db, s.sb.Select(accountColumns...).From("api_config").
		Where(sq.Eq{"is_active": true}).OrderBy("last_updated", "id").Limit(1))
	if err != nil {
		return engine.Account{}, err
	}
	if len(out) == 0 {
		return engine.Account{}, fmt.Errorf("active account: %w", engine.ErrNotFound)
	}
	return out[0], nil
}

// SetActiveAccount makes id the only active account. Reports false if the id is absent.
func (s *Store) SetActiveAccount(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		found, err = s.activate(ctx, tx, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("activate account: %w", err)
	}
	return found, nil
}

// DeleteAccount removes an account. When it was the active one, the oldest remaining
// account takes over. Reports false if the id is absent.
func (s *Store) DeleteAccount(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		accounts, err := s.selectAccounts(ctx, tx, s.sb.Select(accountColumns...).From("api_config").Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return nil
		}
		found = true
		if _, err := exec(ctx, tx, s.sb.Delete("api_config").Where(sq.Eq{"id": id})); err != nil {
			return err
		}
		if !accounts[0].IsActive {
			return nil
		}

		rest, err := s.selectAccounts(ctx, tx, s.sb.Select(accountColumns...).From("api_config").
			OrderBy("last_updated", "id").Limit(1))
		if err != nil || len(rest) == 0 {
			return err
		}
		_, err = s.activate(ctx, tx, rest[0].ID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	return found, nil
}

func (s *Store) activate(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	n, err := exec(ctx, tx, s.sb.Update("api_config").Set("is_active", true).Where(sq.Eq{"id": id}))
	if err != nil || n == 0 {
		return false, err
	}
	_, err = exec(ctx, tx, s.sb.Update("api_config").Set("is_active", false).
		Where(sq.And{sq.NotEq{"id": id}, sq.Eq{"is_active": true}}))
	return err == nil, err
}

func (s *Store) selectAccounts(ctx context.Context, q querier, b sq.Sqlizer) ([]engine.Account, error) {
	rows, err := query(ctx, q, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Account
	for rows.Next() {
		var (
			a                  engine.Account
			business, page     sql.NullString
			updated, expiresAt nullTime
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.AppID, &a.AppSecret, &a.AccessToken, &a.AccountID,
			&business, &page, &a.IsActive, &updated, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.BusinessID = business.String
		a.PageID = page.String
		a.UpdatedAt = updated.Time
		a.TokenExpiresAt = expiresAt.Ptr()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}
