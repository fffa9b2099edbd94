package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/shopbot/backend/internal/model/rule"
)

func newStoreWithMock(t *testing.T) (*RuleStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRuleStore(db), mock
}

const (
	selectAllQ = `(?s)^SELECT\s+id,\s*keywords,\s*reply,\s*enabled\s+FROM\s+keyword_rules\s+ORDER\s+BY\s+position\s+ASC,\s*id\s+ASC\s*$`
	selectOneQ = `(?s)^SELECT\s+id,\s*keywords,\s*reply,\s*enabled\s+FROM\s+keyword_rules\s+WHERE\s+id\s*=\s*\$1\s*$`
	insertQ    = `(?s)^INSERT\s+INTO\s+keyword_rules\s*\(id,\s*keywords,\s*reply,\s*enabled,\s*position\)`
	updateQ    = `(?s)^UPDATE\s+keyword_rules\s+SET`
	deleteOneQ = `^DELETE FROM keyword_rules WHERE id = \$1$`
	deleteAllQ = `^DELETE FROM keyword_rules$`
	countQ     = `^SELECT COUNT\(\*\) FROM keyword_rules$`
)

func TestListOrdersByPosition(t *testing.T) {
	s, mock := newStoreWithMock(t)

	rows := sqlmock.NewRows([]string{"id", "keywords", "reply", "enabled"}).
		AddRow("shipping-fee", []byte(`["運費","免運"]`), "滿 499 免運", true).
		AddRow("returns", []byte(`["退貨"]`), "7 天鑑賞期", false)
	mock.ExpectQuery(selectAllQ).WillReturnRows(rows)

	got, err := s.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []rule.Rule{
		{ID: "shipping-fee", Keywords: []string{"運費", "免運"}, Reply: "滿 499 免運", Enabled: true},
		{ID: "returns", Keywords: []string{"退貨"}, Reply: "7 天鑑賞期", Enabled: false},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDBError(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(selectAllQ).WillReturnError(errors.New("db down"))

	_, err := s.List(context.Background())
	require.ErrorContains(t, err, "db error: db down")
}

func TestGetNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(selectOneQ).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, rule.ErrNotFound)
}

func TestCreateAssignsIDAndAppends(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(insertQ).
		WithArgs(sqlmock.AnyArg(), `["營業時間"]`, "週一至週五", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.Create(context.Background(), rule.Rule{Keywords: []string{" 營業時間 ", ""}, Reply: "週一至週五", Enabled: true})
	require.NoError(t, err)
	require.NotEmpty(t, got.ID)
	require.Equal(t, []string{"營業時間"}, got.Keywords)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsInvalid(t *testing.T) {
	s, _ := newStoreWithMock(t)
	_, err := s.Create(context.Background(), rule.Rule{Keywords: []string{" "}, Reply: "x"})
	require.ErrorIs(t, err, rule.ErrInvalidRule)
}

func TestUpdateMissingRow(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(updateQ).
		WithArgs("gone", `["a"]`, "b", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Update(context.Background(), rule.Rule{ID: "gone", Keywords: []string{"a"}, Reply: "b", Enabled: true})
	require.ErrorIs(t, err, rule.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(deleteOneQ).WithArgs("returns").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(context.Background(), "returns"))

	mock.ExpectExec(deleteOneQ).WithArgs("returns").WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.Delete(context.Background(), "returns"), rule.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRunsInTransaction(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(deleteAllQ).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(insertQ).WithArgs("a", `["x"]`, "1", true, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertQ).WithArgs("b", `["y"]`, "2", false, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.Replace(context.Background(), []rule.Rule{
		{ID: "a", Keywords: []string{"x"}, Reply: "1", Enabled: true},
		{ID: "b", Keywords: []string{"y"}, Reply: "2", Enabled: false},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(deleteAllQ).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(insertQ).WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	_, err := s.Replace(context.Background(), []rule.Rule{{ID: "a", Keywords: []string{"x"}, Reply: "1"}})
	require.ErrorContains(t, err, "unique violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedIfEmpty(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(countQ).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	seeded, err := s.SeedIfEmpty(context.Background(), rule.Seed())
	require.NoError(t, err)
	require.False(t, seeded)

	mock.ExpectQuery(countQ).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(deleteAllQ).WillReturnResult(sqlmock.NewResult(0, 0))
	for range rule.Seed() {
		mock.ExpectExec(insertQ).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	seeded, err = s.SeedIfEmpty(context.Background(), rule.Seed())
	require.NoError(t, err)
	require.True(t, seeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsUsesEmbeddedFS(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, RunMigrations(context.Background(), db))
	require.Equal(t, ".", gotDir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("dirty")
	}
	require.ErrorContains(t, RunMigrations(context.Background(), db), "dirty")
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}
