package level0

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tovus.net/evalflow/internal/approval"
)

var (
	ErrNotFound     = errors.New("level0: authority not found")
	ErrInvalidInput = errors.New("level0: invalid input")
)

// Scope grants level-0 rights over a project. Empty Departments means every
// department of the project; empty Project with Departments is a department-only scope.
type Scope struct {
	Project     string   `json:"project,omitempty" yaml:"project,omitempty"`
	Departments []string `json:"departments,omitempty" yaml:"departments,omitempty"`
}

// Authority is the canonical level-0 assignment of one principal.
type Authority struct {
	ID        string             `json:"id"`
	Principal approval.Principal `json:"principal"`
	Scopes    []Scope            `json:"scopes"`
	Active    bool               `json:"active"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Validate checks the authority shape and normalizes scope lists.
func (a *Authority) Validate() error {
	if strings.TrimSpace(a.Principal.ID) == "" {
		return fmt.Errorf("%w: principal required", ErrInvalidInput)
	}
	if len(a.Scopes) == 0 {
		return fmt.Errorf("%w: at least one scope required", ErrInvalidInput)
	}
	for i, s := range a.Scopes {
		s.Project = strings.TrimSpace(s.Project)
		s.Departments = compact(s.Departments)
		if s.Project == "" && len(s.Departments) == 0 {
			return fmt.Errorf("%w: scope %d has neither project nor departments", ErrInvalidInput, i)
		}
		a.Scopes[i] = s
	}
	return nil
}

func (a Authority) clone() Authority {
	out := a
	out.Scopes = make([]Scope, len(a.Scopes))
	for i, s := range a.Scopes {
		s.Departments = append([]string(nil), s.Departments...)
		out.Scopes[i] = s
	}
	return out
}

// AssignmentType is the legacy discriminator.
type AssignmentType string

const (
	AssignProject           AssignmentType = "project"
	AssignDepartment        AssignmentType = "department"
	AssignDepartmentProject AssignmentType = "department_project"
)

// DepartmentProject is one legacy department-within-project pair.
type DepartmentProject struct {
	Project    string `json:"project" yaml:"project"`
	Department string `json:"department" yaml:"department"`
}

// Assignment is the legacy representation. It is accepted only as migration input.
type Assignment struct {
	Principal          approval.Principal  `json:"assignedUser" yaml:"principal"`
	Type               AssignmentType      `json:"assignmentType" yaml:"type"`
	Projects           []string            `json:"assignedProjects,omitempty" yaml:"projects,omitempty"`
	Departments        []string            `json:"assignedDepartments,omitempty" yaml:"departments,omitempty"`
	DepartmentProjects []DepartmentProject `json:"departmentProjectAssignments,omitempty" yaml:"departmentProjects,omitempty"`
	Active             *bool               `json:"isActive,omitempty" yaml:"active,omitempty"`
}

// FromAssignment converts a legacy assignment into canonical scopes.
func FromAssignment(a Assignment) (Authority, error) {
	out := Authority{Principal: a.Principal, Active: a.Active == nil || *a.Active}
	switch a.Type {
	case AssignProject:
		projects := compact(a.Projects)
		if len(projects) == 0 {
			return Authority{}, fmt.Errorf("%w: at least one project must be assigned", ErrInvalidInput)
		}
		for _, p := range projects {
			out.Scopes = append(out.Scopes, Scope{Project: p})
		}
	case AssignDepartment:
		deps := compact(a.Departments)
		if len(deps) == 0 {
			return Authority{}, fmt.Errorf("%w: at least one department must be assigned", ErrInvalidInput)
		}
		out.Scopes = []Scope{{Departments: deps}}
	case AssignDepartmentProject:
		if len(a.DepartmentProjects) == 0 {
			return Authority{}, fmt.Errorf("%w: at least one department-project pair must be assigned", ErrInvalidInput)
		}
		byProject := map[string][]string{}
		var order []string
		for _, dp := range a.DepartmentProjects {
			p, d := strings.TrimSpace(dp.Project), strings.TrimSpace(dp.Department)
			if p == "" || d == "" {
				return Authority{}, fmt.Errorf("%w: each pair needs both project and department", ErrInvalidInput)
			}
			if _, ok := byProject[p]; !ok {
				order = append(order, p)
			}
			byProject[p] = append(byProject[p], d)
		}
		for _, p := range order {
			out.Scopes = append(out.Scopes, Scope{Project: p, Departments: compact(byProject[p])})
		}
	default:
		return Authority{}, fmt.Errorf("%w: unknown assignment type %q", ErrInvalidInput, a.Type)
	}
	if err := out.Validate(); err != nil {
		return Authority{}, err
	}
	return out, nil
}

// compact trims, drops empties and duplicates, and sorts.
func compact(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
