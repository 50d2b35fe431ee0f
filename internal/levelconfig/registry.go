package levelconfig

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/ids"
)

var (
	ErrNotFound     = errors.New("levelconfig: configuration not found")
	ErrInvalidInput = errors.New("levelconfig: invalid input")
)

// Configuration assigns one principal to a level of a module.
type Configuration struct {
	ID        string             `json:"id"`
	Module    approval.Module    `json:"module" yaml:"module"`
	Level     approval.Level     `json:"level" yaml:"level"`
	Title     string             `json:"title" yaml:"title"`
	Assignee  approval.Principal `json:"assignee" yaml:"assignee"`
	Active    bool               `json:"active" yaml:"active"`
	UpdatedAt time.Time          `json:"updatedAt" yaml:"-"`
}

// Repository persists configurations. Save must deactivate any other active
// row of the same (module, level) in the same write.
type Repository interface {
	ListConfigs(ctx context.Context, module approval.Module, activeOnly bool) ([]Configuration, error)
	SaveConfig(ctx context.Context, c Configuration) (Configuration, error)
	DeactivateConfig(ctx context.Context, id string) error
}

// Registry is the source of truth for level 1..4 authority.
type Registry struct {
	repo Repository
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// GetActiveForModule returns active rows sorted by level.
func (r *Registry) GetActiveForModule(ctx context.Context, module approval.Module) ([]Configuration, error) {
	if !module.Valid() {
		return nil, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, module)
	}
	rows, err := r.repo.ListConfigs(ctx, module, true)
	if err != nil {
		return nil, err
	}
	sortByLevel(rows)
	return rows, nil
}

// IsUserAssigned reports whether principalID holds the active row for key.
func (r *Registry) IsUserAssigned(ctx context.Context, key approval.LevelKey, principalID string) (bool, error) {
	if !key.Valid() || principalID == "" {
		return false, nil
	}
	rows, err := r.repo.ListConfigs(ctx, key.Module, true)
	if err != nil {
		return false, err
	}
	for _, c := range rows {
		if c.Level == key.Level && c.Assignee.ID == principalID {
			return true, nil
		}
	}
	return false, nil
}

// Assignments returns the workflow levels (1..4) that have an assignee.
func (r *Registry) Assignments(ctx context.Context, module approval.Module) ([]approval.LevelAssignment, error) {
	rows, err := r.GetActiveForModule(ctx, module)
	if err != nil {
		return nil, err
	}
	out := make([]approval.LevelAssignment, 0, len(rows))
	for _, c := range rows {
		if c.Level < approval.Level1 || c.Level > approval.Level4 || c.Assignee.ID == "" {
			continue
		}
		out = append(out, approval.LevelAssignment{Level: c.Level, Title: c.Title, Assignee: c.Assignee})
	}
	return out, nil
}

// AssignedLevels lists the active rows held by principalID.
func (r *Registry) AssignedLevels(ctx context.Context, module approval.Module, principalID string) ([]Configuration, error) {
	rows, err := r.GetActiveForModule(ctx, module)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, c := range rows {
		if c.Assignee.ID == principalID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Upsert validates c and makes it the active row for its (module, level).
func (r *Registry) Upsert(ctx context.Context, c Configuration) (Configuration, error) {
	c.Title = strings.TrimSpace(c.Title)
	switch {
	case !c.Module.Valid():
		return Configuration{}, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, c.Module)
	case c.Level < approval.Level1 || c.Level > approval.MaxConfigLevel:
		return Configuration{}, fmt.Errorf("%w: level must be between 1 and %d", ErrInvalidInput, approval.MaxConfigLevel)
	case c.Title == "":
		return Configuration{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	case strings.TrimSpace(c.Assignee.ID) == "":
		return Configuration{}, fmt.Errorf("%w: assignee required", ErrInvalidInput)
	}
	c.Active = true
	return r.repo.SaveConfig(ctx, c)
}

func (r *Registry) Deactivate(ctx context.Context, id string) error {
	return r.repo.DeactivateConfig(ctx, id)
}

// Memory is an in-process Repository.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]Configuration
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]Configuration), now: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) ListConfigs(ctx context.Context, module approval.Module, activeOnly bool) ([]Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Configuration, 0, len(m.rows))
	for _, c := range m.rows {
		if c.Module != module || (activeOnly && !c.Active) {
			continue
		}
		out = append(out, c)
	}
	sortByLevel(out)
	return out, nil
}

func (m *Memory) SaveConfig(ctx context.Context, c Configuration) (Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.Active {
		for id, row := range m.rows {
			if id != c.ID && row.Active && row.Module == c.Module && row.Level == c.Level {
				row.Active = false
				m.rows[id] = row
			}
		}
	}
	c.UpdatedAt = m.now()
	m.rows[c.ID] = c
	return c, nil
}

func (m *Memory) DeactivateConfig(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.Active = false
	row.UpdatedAt = m.now()
	m.rows[id] = row
	return nil
}

func sortByLevel(rows []Configuration) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Level != rows[j].Level {
			return rows[i].Level < rows[j].Level
		}
		return rows[i].ID < rows[j].ID
	})
}
