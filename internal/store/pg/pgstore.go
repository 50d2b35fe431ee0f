// Package pg persists documents, level configuration, level-0 authorities,
// tracking records and users in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/level0"
	"tovus.net/evalflow/internal/levelconfig"
	"tovus.net/evalflow/internal/tracking"
	"tovus.net/evalflow/internal/workflow"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ workflow.Store         = (*Store)(nil)
	_ levelconfig.Repository = (*Store)(nil)
	_ level0.Repository      = (*Store)(nil)
	_ tracking.Ledger        = (*Ledger)(nil)
	_ auth.Directory         = (*Users)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Tracking returns the tracking ledger backed by the same pool.
func (s *Store) Tracking() *Ledger { return &Ledger{db: s.db} }

// Users returns the login directory backed by the same pool.
func (s *Store) Users() *Users { return &Users{db: s.db} }

// Documents -----------------------------------------------------------------

func (s *Store) Create(ctx context.Context, d approval.Document) (approval.Document, error) {
	d.Version = 1
	body, err := json.Marshal(d)
	if err != nil {
		return approval.Document{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		insert into documents(id, employee_id, evaluator_id, form_type, status, approval_status,
			department_id, project_id, access_token, body, version, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		on conflict (id) do nothing
	`, d.ID, d.EmployeeID, d.EvaluatorID, string(d.FormType), string(d.Status), string(d.ApprovalStatus),
		d.DepartmentID, d.ProjectID, d.AccessToken, body, d.Version, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return approval.Document{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return approval.Document{}, approval.ErrConflict
	}
	return d, nil
}

func (s *Store) Get(ctx context.Context, id string) (approval.Document, error) {
	row := s.db.QueryRowContext(ctx, `select body, access_token, version from documents where id=$1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Document{}, approval.ErrNotFound
	}
	return d, err
}

func (s *Store) List(ctx context.Context, f approval.Filter) ([]approval.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		select body, access_token, version from documents
		where ($1 = '' or status = $1) and ($2 = '' or form_type = $2)
		order by created_at desc, id desc
	`, string(f.Status), string(f.FormType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []approval.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Commit writes d if the stored version still equals expected.
func (s *Store) Commit(ctx context.Context, d approval.Document, expected int64) (approval.Document, error) {
	d.Version = expected + 1
	body, err := json.Marshal(d)
	if err != nil {
		return approval.Document{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		update documents set
			form_type=$3, status=$4, approval_status=$5, department_id=$6, project_id=$7,
			access_token=$8, body=$9, updated_at=$10, version=version+1
		where id=$1 and version=$2
	`, d.ID, expected, string(d.FormType), string(d.Status), string(d.ApprovalStatus),
		d.DepartmentID, d.ProjectID, d.AccessToken, body, d.UpdatedAt)
	if err != nil {
		return approval.Document{}, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return d, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from documents where id=$1)`, d.ID).Scan(&exists); err != nil {
		return approval.Document{}, err
	}
	if !exists {
		return approval.Document{}, approval.ErrNotFound
	}
	return approval.Document{}, approval.ErrConflict
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from documents where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return approval.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (approval.Document, error) {
	var (
		body    []byte
		token   sql.NullString
		version int64
	)
	if err := row.Scan(&body, &token, &version); err != nil {
		return approval.Document{}, err
	}
	var d approval.Document
	if err := json.Unmarshal(body, &d); err != nil {
		return approval.Document{}, fmt.Errorf("decode document: %w", err)
	}
	d.AccessToken = token.String
	d.Version = version
	return d, nil
}
