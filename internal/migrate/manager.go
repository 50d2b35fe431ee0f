package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"tovus.net/evalflow/internal/obs"
)

const (
	defaultHistoryTable = "evalflow_schema_history"
	// pg_advisory_lock key shared by every evalflow migrator.
	defaultLockKey int64 = 0x65766c66
)

type scriptKind string

const (
	kindMigration scriptKind = "migration"
	kindSeed      scriptKind = "seed"
)

var (
	// ErrChecksumMismatch means an applied script was edited afterwards.
	ErrChecksumMismatch = errors.New("migrate: applied script changed on disk")
	ErrNothingApplied   = errors.New("migrate: no migrations applied")
)

// Manager applies versioned schema migrations and one-shot seeds.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	table      string
	lockKey    int64
}

// Option configures Manager.
type Option func(*Manager)

// WithHistoryTable overrides the bookkeeping table name.
func WithHistoryTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithLockKey changes the advisory lock key, e.g. for parallel test schemas.
func WithLockKey(key int64) Option {
	return func(m *Manager) { m.lockKey = key }
}

// NewManager constructs a Manager. A nil seeds FS makes Seed a no-op.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		table:      defaultHistoryTable,
		lockKey:    defaultLockKey,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry is one line of Status output.
type Entry struct {
	Name      string    `json:"name"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"appliedAt,omitzero"`
}

type applied struct {
	name     string
	checksum string
	at       time.Time
}

// Up applies every pending migration in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, kindMigration, m.migrations, ".up.sql")
	})
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return nil
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, kindSeed, m.seeds, ".sql")
	})
}

// Down rolls back the last steps migrations, newest first.
func (m *Manager) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		history, err := m.history(ctx, conn, kindMigration)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return ErrNothingApplied
		}
		for i := len(history) - 1; i >= 0 && steps > 0; i, steps = i-1, steps-1 {
			name := history[i].name
			down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
			body, err := m.scriptBody(m.migrations, down)
			if err != nil {
				return fmt.Errorf("rollback %s: %w", name, err)
			}
			forget := fmt.Sprintf(`delete from %s where kind = $1 and name = $2`, m.table)
			if err := m.runTx(ctx, conn, body, forget, string(kindMigration), name); err != nil {
				return fmt.Errorf("rollback %s: %w", name, err)
			}
			obs.Logger().Info().Str("migration", name).Msg("migration rolled back")
		}
		return nil
	})
}

// Status lists applied migrations followed by pending ones.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := m.locked(ctx, func(conn *sql.Conn) error {
		history, err := m.history(ctx, conn, kindMigration)
		if err != nil {
			return err
		}
		scripts, err := collectSQL(m.migrations, ".up.sql")
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(history))
		for _, h := range history {
			seen[h.name] = true
			out = append(out, Entry{Name: h.name, Applied: true, AppliedAt: h.at})
		}
		for _, s := range scripts {
			if !seen[s.Base] {
				out = append(out, Entry{Name: s.Base})
			}
		}
		return nil
	})
	return out, err
}

// locked runs fn on one connection holding the session advisory lock,
// so concurrent deployments migrate one at a time.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) (err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrate: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, m.lockKey); err != nil {
		return fmt.Errorf("migrate: lock: %w", err)
	}
	defer func() {
		// освобождаем лок даже если ctx уже отменён
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, m.lockKey); uerr != nil && err == nil {
			err = fmt.Errorf("migrate: unlock: %w", uerr)
		}
	}()

	ddl := fmt.Sprintf(`create table if not exists %s (
		kind text not null,
		name text not null,
		checksum text not null,
		applied_at timestamptz not null default now(),
		primary key (kind, name)
	)`, m.table)
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: history table: %w", err)
	}
	return fn(conn)
}

func (m *Manager) applyAll(ctx context.Context, conn *sql.Conn, kind scriptKind, fsys fs.FS, suffix string) error {
	history, err := m.history(ctx, conn, kind)
	if err != nil {
		return err
	}
	done := make(map[string]string, len(history))
	for _, h := range history {
		done[h.name] = h.checksum
	}
	scripts, err := collectSQL(fsys, suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s (kind, name, checksum, applied_at) values ($1, $2, $3, $4)`, m.table)
	for _, s := range scripts {
		body, err := m.scriptBody(fsys, s.Path)
		if err != nil {
			return err
		}
		sum := checksum(body)
		if prev, ok := done[s.Base]; ok {
			if prev != sum {
				return fmt.Errorf("%w: %s %s", ErrChecksumMismatch, kind, s.Base)
			}
			continue
		}
		if err := m.runTx(ctx, conn, body, record, string(kind), s.Base, sum, time.Now().UTC()); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, s.Base, err)
		}
		obs.Logger().Info().Str("kind", string(kind)).Str("script", s.Base).Msg("script applied")
	}
	return nil
}

// runTx executes the script body and the bookkeeping statement atomically.
func (m *Manager) runTx(ctx context.Context, conn *sql.Conn, body, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context, conn *sql.Conn, kind scriptKind) ([]applied, error) {
	q := fmt.Sprintf(`select name, checksum, applied_at from %s where kind = $1 order by applied_at, name`, m.table)
	rows, err := conn.QueryContext(ctx, q, string(kind))
	if err != nil {
		return nil, fmt.Errorf("migrate: read history: %w", err)
	}
	defer rows.Close()
	var out []applied
	for rows.Next() {
		var a applied
		if err := rows.Scan(&a.name, &a.checksum, &a.at); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (m *Manager) scriptBody(fsys fs.FS, name string) (string, error) {
	if fsys == nil {
		return "", fs.ErrNotExist
	}
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

type sqlFile struct {
	Base string
	Path string
}

// collectSQL finds files ending in suffix anywhere under fsys, ordered by base name.
func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	matches, err := fs.Glob(fsys, "*"+suffix)
	if err != nil {
		return nil, err
	}
	nested, err := fs.Glob(fsys, "*/*"+suffix)
	if err != nil {
		return nil, err
	}
	files := make([]sqlFile, 0, len(matches)+len(nested))
	for _, p := range append(matches, nested...) {
		files = append(files, sqlFile{Base: path.Base(p), Path: p})
	}
	slices.SortFunc(files, func(a, b sqlFile) int { return strings.Compare(a.Base, b.Base) })
	return files, nil
}

// splitStatements cuts a script on top-level semicolons. Quoted strings,
// -- comments and $tag$ bodies are kept intact; empty statements are dropped.
func splitStatements(script string) []string {
	var (
		out    []string
		start  int
		dollar string // active $tag$ delimiter
		quote  bool
	)
	flush := func(end int) {
		if stmt := strings.TrimSpace(script[start:end]); hasCode(stmt) {
			out = append(out, stmt)
		}
		start = end
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case dollar != "":
			if strings.HasPrefix(script[i:], dollar) {
				i += len(dollar) - 1
				dollar = ""
			}
		case quote:
			if c == '\'' {
				quote = false
			}
		case c == '\'':
			quote = true
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			if nl := strings.IndexByte(script[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(script)
			}
		case c == '$':
			if end := strings.IndexByte(script[i+1:], '$'); end >= 0 && isDollarTag(script[i+1:i+1+end]) {
				dollar = script[i : i+end+2]
				i += end + 1
			}
		case c == ';':
			flush(i + 1)
		}
	}
	if start < len(script) {
		flush(len(script))
	}
	return out
}

// hasCode reports whether stmt is more than comments and a bare semicolon.
func hasCode(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != ";" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}

func isDollarTag(tag string) bool {
	for _, r := range tag {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
