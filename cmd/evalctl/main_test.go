package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/level0"
)

func TestReadLevels(t *testing.T) {
	in := `
module: evaluation_appraisal
levels:
  - level: 1
    title: Line manager
    assignee: {id: U2, name: Rita}
  - level: 2
    title: HR director
    module: other_module
    assignee: {id: U3}
`
	rows, err := readLevels(strings.NewReader(in), "fallback")
	if err != nil {
		t.Fatalf("readLevels: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Module != approval.ModuleEvaluationAppraisal || rows[0].Level != approval.Level1 || rows[0].Assignee.ID != "U2" || rows[0].Assignee.Name != "Rita" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].Module != "other_module" {
		t.Fatalf("explicit module overwritten: %+v", rows[1])
	}

	if _, err := readLevels(strings.NewReader("levels: []\n"), "m"); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestReadAssignments(t *testing.T) {
	in := `
assignments:
  - principal: {id: U1}
    type: department_project
    departmentProjects:
      - {project: P1, department: Dept1}
  - principal: {id: U2}
    type: department
    departments: [Dept2]
    active: false
`
	got, err := readAssignments(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readAssignments: %v", err)
	}
	if len(got) != 2 || got[0].Type != level0.AssignDepartmentProject || got[0].DepartmentProjects[0].Department != "Dept1" {
		t.Fatalf("unexpected assignments: %+v", got)
	}
	if got[1].Active == nil || *got[1].Active {
		t.Fatalf("active flag lost: %+v", got[1])
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("EVALFLOW_AUTH_SECRET", "cli-secret")
	auth.ResetSecretForTests()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "U7", "--role", "hr", "--name", "Hana"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	claims, err := auth.ParseAndValidate(resp.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if p := claims.Principal(); p.UserID != "U7" || p.Name != "Hana" || !p.HasRole(auth.RoleHR) {
		t.Fatalf("unexpected principal: %+v", p)
	}
}
