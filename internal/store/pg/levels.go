package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/ids"
	"tovus.net/evalflow/internal/level0"
	"tovus.net/evalflow/internal/levelconfig"
)

// Level configuration ---------------------------------------------------------

func (s *Store) ListConfigs(ctx context.Context, module approval.Module, activeOnly bool) ([]levelconfig.Configuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, module, level, title, assignee_id, assignee_name, assignee_employee_id, active, updated_at
		from approval_level_configs
		where module=$1 and (not $2 or active)
		order by level asc, id asc
	`, string(module), activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []levelconfig.Configuration{}
	for rows.Next() {
		var (
			c      levelconfig.Configuration
			mod    string
			level  int
			name   sql.NullString
			employ sql.NullString
		)
		if err := rows.Scan(&c.ID, &mod, &level, &c.Title, &c.Assignee.ID, &name, &employ, &c.Active, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Module = approval.Module(mod)
		c.Level = approval.Level(level)
		c.Assignee.Name = name.String
		c.Assignee.EmployeeID = employ.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveConfig upserts c; an active row retires every other active row of its level.
func (s *Store) SaveConfig(ctx context.Context, c levelconfig.Configuration) (levelconfig.Configuration, error) {
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.UpdatedAt = s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return levelconfig.Configuration{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if c.Active {
		if _, err := tx.ExecContext(ctx, `
			update approval_level_configs set active=false, updated_at=$4
			where module=$1 and level=$2 and id<>$3 and active
		`, string(c.Module), int(c.Level), c.ID, c.UpdatedAt); err != nil {
			return levelconfig.Configuration{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into approval_level_configs(id, module, level, title, assignee_id, assignee_name, assignee_employee_id, active, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (id) do update set
			module=excluded.module, level=excluded.level, title=excluded.title,
			assignee_id=excluded.assignee_id, assignee_name=excluded.assignee_name,
			assignee_employee_id=excluded.assignee_employee_id, active=excluded.active,
			updated_at=excluded.updated_at
	`, c.ID, string(c.Module), int(c.Level), c.Title, c.Assignee.ID, c.Assignee.Name, c.Assignee.EmployeeID, c.Active, c.UpdatedAt); err != nil {
		return levelconfig.Configuration{}, err
	}
	if err := tx.Commit(); err != nil {
		return levelconfig.Configuration{}, err
	}
	return c, nil
}

func (s *Store) DeactivateConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update approval_level_configs set active=false, updated_at=$2 where id=$1`, id, s.now())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return levelconfig.ErrNotFound
	}
	return nil
}

// Level-0 authorities ---------------------------------------------------------

func (s *Store) ListAuthorities(ctx context.Context, activeOnly bool) ([]level0.Authority, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, principal_id, principal_name, principal_employee_id, scopes, active, updated_at
		from level0_authorities
		where (not $1 or active)
		order by principal_id asc
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []level0.Authority{}
	for rows.Next() {
		var (
			a      level0.Authority
			name   sql.NullString
			employ sql.NullString
			scopes []byte
		)
		if err := rows.Scan(&a.ID, &a.Principal.ID, &name, &employ, &scopes, &a.Active, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Principal.Name = name.String
		a.Principal.EmployeeID = employ.String
		if err := json.Unmarshal(scopes, &a.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes of %s: %w", a.Principal.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAuthority replaces the principal's authority, keeping its id.
func (s *Store) SaveAuthority(ctx context.Context, a level0.Authority) (level0.Authority, error) {
	scopes, err := json.Marshal(a.Scopes)
	if err != nil {
		return level0.Authority{}, err
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.UpdatedAt = s.now()
	err = s.db.QueryRowContext(ctx, `
		insert into level0_authorities(id, principal_id, principal_name, principal_employee_id, scopes, active, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (principal_id) do update set
			principal_name=excluded.principal_name, principal_employee_id=excluded.principal_employee_id,
			scopes=excluded.scopes, active=excluded.active, updated_at=excluded.updated_at
		returning id
	`, a.ID, a.Principal.ID, a.Principal.Name, a.Principal.EmployeeID, scopes, a.Active, a.UpdatedAt).Scan(&a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return level0.Authority{}, level0.ErrNotFound
	}
	if err != nil {
		return level0.Authority{}, err
	}
	return a, nil
}
