package migrate

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
)

func TestSplitStatements(t *testing.T) {
	script := `-- заголовок; не выполняется
create table a(x text default 'a;b');
insert into a values ('it''s; fine');
create function f() returns int as $body$ begin return 1; end $body$ language plpgsql;
do $$ begin perform 1; end $$;
-- хвост
select 1`
	got := splitStatements(script)
	want := []string{
		"-- заголовок; не выполняется\ncreate table a(x text default 'a;b');",
		"insert into a values ('it''s; fine');",
		"create function f() returns int as $body$ begin return 1; end $body$ language plpgsql;",
		"do $$ begin perform 1; end $$;",
		"-- хвост\nselect 1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("statements mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitStatementsDropsCommentOnly(t *testing.T) {
	if got := splitStatements("-- nothing here\n;\n  \n"); len(got) != 0 {
		t.Fatalf("expected no statements, got %q", got)
	}
}

func TestCollectSQLOrdersByName(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("select 2;")},
		"0001_a.up.sql":   {Data: []byte("select 1;")},
		"0001_a.down.sql": {Data: []byte("select 0;")},
	}
	files, err := collectSQL(fsys, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	want := []sqlFile{{Base: "0001_a.up.sql", Path: "0001_a.up.sql"}, {Base: "0002_b.up.sql", Path: "0002_b.up.sql"}}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("unexpected files (-want +got):\n%s", diff)
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	migrations, seeds := Embedded()
	ups, err := collectSQL(migrations, ".up.sql")
	if err != nil || len(ups) == 0 {
		t.Fatalf("embedded migrations: %v (%d files)", err, len(ups))
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up.Path, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(migrations, down); err != nil {
			t.Fatalf("missing %s: %v", down, err)
		}
	}
	if _, err := fs.ReadFile(seeds, "0001_approval_levels.sql"); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func expectLocked(mock sqlmock.Sqlmock) {
	mock.ExpectExec("pg_advisory_lock").WithArgs(defaultLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists evalflow_schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectUnlocked(mock sqlmock.Sqlmock) {
	mock.ExpectExec("pg_advisory_unlock").WithArgs(defaultLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
}

func historyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "checksum", "applied_at"})
}

func TestUpSkipsAppliedAndRecordsInSameTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	first := "create table a(id text);"
	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte(first)},
		"0002_b.up.sql": {Data: []byte("create table b(id text);")},
	}
	expectLocked(mock)
	mock.ExpectQuery("select name, checksum, applied_at from evalflow_schema_history").
		WithArgs("migration").
		WillReturnRows(historyRows().AddRow("0001_a.up.sql", checksum(first), time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into evalflow_schema_history").
		WithArgs("migration", "0002_b.up.sql", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectUnlocked(mock)

	if err := NewManager(db, fsys, nil).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpDetectsEditedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a(id text, extra int);")}}
	expectLocked(mock)
	mock.ExpectQuery("select name, checksum, applied_at").
		WithArgs("migration").
		WillReturnRows(historyRows().AddRow("0001_a.up.sql", checksum("create table a(id text);"), time.Now()))
	expectUnlocked(mock)

	err = NewManager(db, fsys, nil).Up(context.Background())
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFailedScriptRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a(id text); create index broken;")}}
	expectLocked(mock)
	mock.ExpectQuery("select name, checksum, applied_at").WithArgs("migration").WillReturnRows(historyRows())
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	expectUnlocked(mock)

	err = NewManager(db, fsys, nil).Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_a.up.sql") {
		t.Fatalf("expected failure naming the script, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackNewestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a(id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b(id text);")},
		"0002_b.down.sql": {Data: []byte("drop table b;")},
	}
	now := time.Now()
	expectLocked(mock)
	mock.ExpectQuery("select name, checksum, applied_at").WithArgs("migration").
		WillReturnRows(historyRows().
			AddRow("0001_a.up.sql", "x", now.Add(-time.Hour)).
			AddRow("0002_b.up.sql", "y", now))
	for _, tc := range []struct{ table, name string }{{"b", "0002_b.up.sql"}, {"a", "0001_a.up.sql"}} {
		mock.ExpectBegin()
		mock.ExpectExec("drop table " + tc.table).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("delete from evalflow_schema_history").
			WithArgs("migration", tc.name).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}
	expectUnlocked(mock)

	if err := NewManager(db, fsys, nil).Down(context.Background(), 5); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRequiresPair(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a(id text);")}}
	expectLocked(mock)
	mock.ExpectQuery("select name, checksum, applied_at").WithArgs("migration").
		WillReturnRows(historyRows().AddRow("0001_a.up.sql", "x", time.Now()))
	expectUnlocked(mock)

	err = NewManager(db, fsys, nil).Down(context.Background(), 1)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected missing down script, got %v", err)
	}
}

func TestDownWithEmptyHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectLocked(mock)
	mock.ExpectQuery("select name, checksum, applied_at").WithArgs("migration").WillReturnRows(historyRows())
	expectUnlocked(mock)

	if err := NewManager(db, fstest.MapFS{}, nil).Down(context.Background(), 1); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestStatusListsPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("select 1;")},
		"0002_b.up.sql": {Data: []byte("select 2;")},
	}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	expectLocked(mock)
	mock.ExpectQuery("select name, checksum, applied_at").WithArgs("migration").
		WillReturnRows(historyRows().AddRow("0001_a.up.sql", "x", at))
	expectUnlocked(mock)

	got, err := NewManager(db, fsys, nil).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := []Entry{
		{Name: "0001_a.up.sql", Applied: true, AppliedAt: at},
		{Name: "0002_b.up.sql"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestSeedWithoutFSIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	if err := NewManager(db, fstest.MapFS{}, nil).Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}
