package masterdata

import (
	"context"
	"strings"
	"testing"

	"tovus.net/evalflow/internal/approval"
)

const seedYAML = `
employees:
  - id: E1
    code: "0001"
    firstName: Ana
    lastName: Silva
    category: blue_collar
    project: P1
    department: D1
  - id: E2
    firstName: Rui
    department: D2
departments:
  - id: D1
    name: Operations
    active: true
projects:
  - id: P1
    name: Harbour
`

func TestLoadYAML(t *testing.T) {
	m, err := LoadYAML(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatal(err)
	}
	e, err := m.Employee(context.Background(), "E1")
	if err != nil {
		t.Fatal(err)
	}
	if e.FullName() != "Ana Silva" || e.FormType() != approval.FormBlueCollar {
		t.Fatalf("unexpected employee: %+v", e)
	}
	e2, _ := m.Employee(context.Background(), "E2")
	if e2.FormType() != approval.FormWhiteCollar {
		t.Fatalf("default form type: %s", e2.FormType())
	}
	if _, err := m.Department(context.Background(), "D9"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	if _, err := LoadYAML(strings.NewReader("employees:\n  - id: E1\n    salary: 10\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestScopeFallsBackToPlacement(t *testing.T) {
	m, _ := LoadYAML(strings.NewReader(seedYAML))
	ctx := context.Background()
	cases := []struct {
		name        string
		doc         approval.Document
		wantProject string
		wantDept    string
	}{
		{"document fields win", approval.Document{EmployeeID: "E1", ProjectID: "PX", DepartmentID: "DX"}, "PX", "DX"},
		{"placement fills gaps", approval.Document{EmployeeID: "E1", DepartmentID: "DX"}, "P1", "DX"},
		{"employee without project", approval.Document{EmployeeID: "E2"}, "", "D2"},
		{"unknown employee", approval.Document{EmployeeID: "E9"}, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, d, err := Scope(ctx, m, tc.doc)
			if err != nil {
				t.Fatal(err)
			}
			if p != tc.wantProject || d != tc.wantDept {
				t.Fatalf("got (%q,%q) want (%q,%q)", p, d, tc.wantProject, tc.wantDept)
			}
		})
	}
}
