package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/ids"
)

// Users is the login directory.
type Users struct {
	db *sql.DB
}

// Put inserts or replaces a user keyed by id.
func (s *Users) Put(ctx context.Context, u auth.User) (auth.User, error) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return auth.User{}, auth.ErrInvalidInput
	}
	roles, _ := json.Marshal(u.Roles)
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, name, employee_id, password_hash, roles, active)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (id) do update set
			email=excluded.email, name=excluded.name, employee_id=excluded.employee_id,
			password_hash=excluded.password_hash, roles=excluded.roles, active=excluded.active
	`, u.ID, u.Email, u.Name, u.EmployeeID, u.PasswordHash, roles, u.Active)
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Users) Find(ctx context.Context, id string) (auth.User, error) {
	return s.scan(s.db.QueryRowContext(ctx, `
		select id, email, name, employee_id, password_hash, roles, active, created_at
		from users where id=$1`, id))
}

func (s *Users) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.scan(s.db.QueryRowContext(ctx, `
		select id, email, name, employee_id, password_hash, roles, active, created_at
		from users where email=$1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Users) scan(row *sql.Row) (auth.User, error) {
	var (
		u        auth.User
		name     sql.NullString
		employee sql.NullString
		roles    []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &name, &employee, &u.PasswordHash, &roles, &u.Active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrNotFound
		}
		return auth.User{}, err
	}
	u.Name = name.String
	u.EmployeeID = employee.String
	if len(roles) > 0 {
		_ = json.Unmarshal(roles, &u.Roles)
	}
	return u, nil
}
