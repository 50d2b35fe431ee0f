package masterdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tovus.net/evalflow/internal/approval"
)

var ErrNotFound = errors.New("masterdata: not found")

// Employee is the slice of the HR master record the workflow reads.
type Employee struct {
	ID           string            `json:"id" yaml:"id"`
	Code         string            `json:"code" yaml:"code"`
	FirstName    string            `json:"firstName" yaml:"firstName"`
	LastName     string            `json:"lastName" yaml:"lastName"`
	Email        string            `json:"email" yaml:"email"`
	Designation  string            `json:"designation,omitempty" yaml:"designation"`
	Category     approval.FormType `json:"category,omitempty" yaml:"category"`
	ProjectID    string            `json:"project,omitempty" yaml:"project"`
	DepartmentID string            `json:"department,omitempty" yaml:"department"`
	PrincipalID  string            `json:"principal,omitempty" yaml:"principal"`
}

func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// FormType derives the sheet from the employee category; white collar by default.
func (e Employee) FormType() approval.FormType {
	if e.Category == approval.FormBlueCollar {
		return approval.FormBlueCollar
	}
	return approval.FormWhiteCollar
}

type Department struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Active bool   `json:"active" yaml:"active"`
	// HOD is the employee id of the head of department, if known.
	HOD string `json:"hod,omitempty" yaml:"hod"`
}

type Project struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Directory is the read-only master-data collaborator.
type Directory interface {
	Employee(ctx context.Context, id string) (Employee, error)
	Department(ctx context.Context, id string) (Department, error)
	Project(ctx context.Context, id string) (Project, error)
}

// Scope returns the effective project and department of a document:
// its own fields first, then the employee's placement.
func Scope(ctx context.Context, dir Directory, d approval.Document) (string, string, error) {
	project, department := d.ProjectID, d.DepartmentID
	if project != "" && department != "" {
		return project, department, nil
	}
	emp, err := dir.Employee(ctx, d.EmployeeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return project, department, nil
		}
		return "", "", fmt.Errorf("placement of %s: %w", d.EmployeeID, err)
	}
	if project == "" {
		project = emp.ProjectID
	}
	if department == "" {
		department = emp.DepartmentID
	}
	return project, department, nil
}

// Memory is an in-process Directory, seeded directly or from YAML.
type Memory struct {
	mu          sync.RWMutex
	employees   map[string]Employee
	departments map[string]Department
	projects    map[string]Project
}

func NewMemory() *Memory {
	return &Memory{
		employees:   make(map[string]Employee),
		departments: make(map[string]Department),
		projects:    make(map[string]Project),
	}
}

// Seed is the YAML layout accepted by LoadYAML.
type Seed struct {
	Employees   []Employee   `yaml:"employees"`
	Departments []Department `yaml:"departments"`
	Projects    []Project    `yaml:"projects"`
}

// LoadYAML builds a Memory directory from a seed document.
func LoadYAML(r io.Reader) (*Memory, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode master data: %w", err)
	}
	m := NewMemory()
	for _, e := range s.Employees {
		m.PutEmployee(e)
	}
	for _, d := range s.Departments {
		m.PutDepartment(d)
	}
	for _, p := range s.Projects {
		m.PutProject(p)
	}
	return m, nil
}

func (m *Memory) PutEmployee(e Employee) {
	m.mu.Lock()
	m.employees[e.ID] = e
	m.mu.Unlock()
}

func (m *Memory) PutDepartment(d Department) {
	m.mu.Lock()
	m.departments[d.ID] = d
	m.mu.Unlock()
}

func (m *Memory) PutProject(p Project) {
	m.mu.Lock()
	m.projects[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) Employee(ctx context.Context, id string) (Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return Employee{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Department(ctx context.Context, id string) (Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[id]
	if !ok {
		return Department{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) Project(ctx context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}
