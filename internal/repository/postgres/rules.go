package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zhouzirui/shopbot/backend/internal/dbx"
	"github.com/zhouzirui/shopbot/backend/internal/model/rule"
)

// RuleStore keeps keyword rules ordered by position; lower positions match first.
type RuleStore struct {
	db *sql.DB
}

var _ rule.Store = (*RuleStore)(nil)

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) List(ctx context.Context) ([]rule.Rule, error) {
	query :=
		`SELECT id, keywords, reply, enabled FROM keyword_rules
		 ORDER BY position ASC, id ASC
		 `

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]rule.Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (rule.Rule, error) {
	query :=
		`SELECT id, keywords, reply, enabled FROM keyword_rules
		 WHERE id = $1
		 `

	r, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rule.Rule{}, rule.ErrNotFound
	}
	return r, err
}

// Create appends r after the current last rule.
func (s *RuleStore) Create(ctx context.Context, r rule.Rule) (rule.Rule, error) {
	if err := r.Validate(); err != nil {
		return rule.Rule{}, err
	}
	r = r.Normalize()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	keywords, err := json.Marshal(r.Keywords)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("encode keywords: %w", err)
	}

	query :=
		`INSERT INTO keyword_rules (id, keywords, reply, enabled, position)
		 VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(position), 0) + 1 FROM keyword_rules))
		 `

	if _, err := s.db.ExecContext(ctx, query, r.ID, string(keywords), r.Reply, r.Enabled); err != nil {
		return rule.Rule{}, fmt.Errorf("db error: %w", err)
	}
	return r, nil
}

func (s *RuleStore) Update(ctx context.Context, r rule.Rule) (rule.Rule, error) {
	if err := r.Validate(); err != nil {
		return rule.Rule{}, err
	}
	r = r.Normalize()
	keywords, err := json.Marshal(r.Keywords)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("encode keywords: %w", err)
	}

	query :=
		`UPDATE keyword_rules SET keywords = $2, reply = $3, enabled = $4, updated_at = now()
		 WHERE id = $1
		 `

	res, err := s.db.ExecContext(ctx, query, r.ID, string(keywords), r.Reply, r.Enabled)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("db error: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return rule.Rule{}, err
	}
	return r, nil
}

func (s *RuleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keyword_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// Replace swaps the whole list in one transaction; order becomes position.
func (s *RuleStore) Replace(ctx context.Context, rules []rule.Rule) ([]rule.Rule, error) {
	next, err := rule.PrepareReplace(rules)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keyword_rules`); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return insertAll(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// SeedIfEmpty installs rules when the table has none, so a fresh database
// starts with the default FAQ replies.
func (s *RuleStore) SeedIfEmpty(ctx context.Context, rules []rule.Rule) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM keyword_rules`).Scan(&count); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.Replace(ctx, rules); err != nil {
		return false, err
	}
	return true, nil
}

func insertAll(ctx context.Context, tx dbx.DBTX, rules []rule.Rule) error {
	query :=
		`INSERT INTO keyword_rules (id, keywords, reply, enabled, position)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	for i, r := range rules {
		keywords, err := json.Marshal(r.Keywords)
		if err != nil {
			return fmt.Errorf("encode keywords: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, r.ID, string(keywords), r.Reply, r.Enabled, i+1); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (rule.Rule, error) {
	var (
		r        rule.Rule
		keywords []byte
	)
	if err := row.Scan(&r.ID, &keywords, &r.Reply, &r.Enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rule.Rule{}, err
		}
		return rule.Rule{}, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal(keywords, &r.Keywords); err != nil {
		return rule.Rule{}, fmt.Errorf("decode keywords for rule %s: %w", r.ID, err)
	}
	return r, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return rule.ErrNotFound
	}
	return nil
}
