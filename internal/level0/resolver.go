package level0

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/ids"
)

// Repository persists authorities.
type Repository interface {
	ListAuthorities(ctx context.Context, activeOnly bool) ([]Authority, error)
	SaveAuthority(ctx context.Context, a Authority) (Authority, error)
}

type match int

const (
	matchNone match = iota
	matchDepartmentOnly
	matchProjectWide
	matchExact
)

// Matcher is the single scope-matching rule set.
type Matcher struct{}

// bestMatch returns the strongest scope of a for (project, department).
func (Matcher) bestMatch(a Authority, project, department string) match {
	best := matchNone
	for _, s := range a.Scopes {
		var m match
		switch {
		case s.Project != "" && s.Project == project && len(s.Departments) > 0:
			if department != "" && contains(s.Departments, department) {
				m = matchExact
			}
		case s.Project != "" && s.Project == project:
			m = matchProjectWide
		case s.Project == "" && department != "" && contains(s.Departments, department):
			m = matchDepartmentOnly
		}
		if m > best {
			best = m
		}
	}
	return best
}

// Match returns the principals entitled to act at level 0, ordered by principal id.
// Department-only scopes apply only when no authority matched by project.
func (m Matcher) Match(auths []Authority, project, department string) []approval.Principal {
	project = strings.TrimSpace(project)
	department = strings.TrimSpace(department)
	if project == "" {
		return nil
	}
	var byProject, byDepartment []approval.Principal
	seen := map[string]bool{}
	for _, a := range sorted(auths) {
		if !a.Active || seen[a.Principal.ID] {
			continue
		}
		switch m.bestMatch(a, project, department) {
		case matchExact, matchProjectWide:
			byProject = append(byProject, a.Principal)
			seen[a.Principal.ID] = true
		case matchDepartmentOnly:
			byDepartment = append(byDepartment, a.Principal)
		}
	}
	if len(byProject) > 0 {
		return byProject
	}
	return dedupe(byDepartment)
}

// Resolver answers level-0 questions over a Repository.
type Resolver struct {
	repo    Repository
	matcher Matcher
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveApprovers returns the level-0 principals for a scope. Empty when project is empty.
func (r *Resolver) ResolveApprovers(ctx context.Context, projectID, departmentID string) ([]approval.Principal, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, nil
	}
	auths, err := r.repo.ListAuthorities(ctx, true)
	if err != nil {
		return nil, err
	}
	return r.matcher.Match(auths, projectID, departmentID), nil
}

// HasAuthority reports whether principalID is among ResolveApprovers for the scope.
func (r *Resolver) HasAuthority(ctx context.Context, principalID, projectID, departmentID string) (bool, error) {
	if principalID == "" {
		return false, nil
	}
	ps, err := r.ResolveApprovers(ctx, projectID, departmentID)
	if err != nil {
		return false, err
	}
	for _, p := range ps {
		if p.ID == principalID {
			return true, nil
		}
	}
	return false, nil
}

// List returns authorities ordered by principal.
func (r *Resolver) List(ctx context.Context, activeOnly bool) ([]Authority, error) {
	auths, err := r.repo.ListAuthorities(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	return sorted(auths), nil
}

// Save validates and stores a canonical authority, replacing the principal's previous one.
func (r *Resolver) Save(ctx context.Context, a Authority) (Authority, error) {
	if err := a.Validate(); err != nil {
		return Authority{}, err
	}
	return r.repo.SaveAuthority(ctx, a)
}

// MigrateResult reports a legacy import.
type MigrateResult struct {
	Migrated []Authority `json:"migrated"`
	Failed   []Failure   `json:"failed"`
}

type Failure struct {
	Index     int    `json:"index"`
	Principal string `json:"principal"`
	Error     string `json:"error"`
}

// Migrate converts legacy assignments and saves them. Assignments of the same
// principal are merged into one authority.
func (r *Resolver) Migrate(ctx context.Context, in []Assignment) (MigrateResult, error) {
	res := MigrateResult{Migrated: []Authority{}, Failed: []Failure{}}
	merged := map[string]*Authority{}
	var order []string
	for i, a := range in {
		auth, err := FromAssignment(a)
		if err != nil {
			res.Failed = append(res.Failed, Failure{Index: i, Principal: a.Principal.ID, Error: err.Error()})
			continue
		}
		if prev, ok := merged[auth.Principal.ID]; ok {
			prev.Scopes = append(prev.Scopes, auth.Scopes...)
			prev.Active = prev.Active || auth.Active
			continue
		}
		merged[auth.Principal.ID] = &auth
		order = append(order, auth.Principal.ID)
	}
	for _, id := range order {
		saved, err := r.repo.SaveAuthority(ctx, *merged[id])
		if err != nil {
			return res, err
		}
		res.Migrated = append(res.Migrated, saved)
	}
	return res, nil
}

// Memory is an in-process Repository.
type Memory struct {
	mu    sync.RWMutex
	byPID map[string]Authority
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{byPID: make(map[string]Authority), now: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) ListAuthorities(ctx context.Context, activeOnly bool) ([]Authority, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Authority, 0, len(m.byPID))
	for _, a := range m.byPID {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a.clone())
	}
	return sorted(out), nil
}

func (m *Memory) SaveAuthority(ctx context.Context, a Authority) (Authority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byPID[a.Principal.ID]; ok {
		a.ID = prev.ID
	} else if a.ID == "" {
		a.ID = ids.New()
	}
	a.UpdatedAt = m.now()
	m.byPID[a.Principal.ID] = a.clone()
	return a, nil
}

func sorted(in []Authority) []Authority {
	sort.SliceStable(in, func(i, j int) bool { return in[i].Principal.ID < in[j].Principal.ID })
	return in
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func dedupe(ps []approval.Principal) []approval.Principal {
	seen := map[string]bool{}
	out := ps[:0]
	for _, p := range ps {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}
