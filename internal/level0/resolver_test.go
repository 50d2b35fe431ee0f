package level0

import (
	"context"
	"errors"
	"testing"

	"tovus.net/evalflow/internal/approval"
)

func auth(id string, scopes ...Scope) Authority {
	return Authority{Principal: approval.Principal{ID: id}, Scopes: scopes, Active: true}
}

func principalIDs(ps []approval.Principal) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMatcherPrecedence(t *testing.T) {
	auths := []Authority{
		auth("exact", Scope{Project: "P1", Departments: []string{"D1"}}),
		auth("wide", Scope{Project: "P1"}),
		auth("other-dept", Scope{Project: "P1", Departments: []string{"D2"}}),
		auth("global", Scope{Departments: []string{"D1", "D3"}}),
		{Principal: approval.Principal{ID: "inactive"}, Scopes: []Scope{{Project: "P1"}}},
	}
	cases := []struct {
		name       string
		project    string
		department string
		want       []string
	}{
		{"no project never applies", "", "D1", nil},
		{"exact and project wide", "P1", "D1", []string{"exact", "wide"}},
		{"department outside lists", "P1", "D9", []string{"wide"}},
		{"no department", "P1", "", []string{"wide"}},
		{"department only fallback", "P2", "D3", []string{"global"}},
		{"nothing matches", "P2", "D9", nil},
	}
	var m Matcher
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := principalIDs(m.Match(auths, tc.project, tc.department))
			if !equal(got, tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestHasAuthorityConsistentWithResolve(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	r := NewResolver(repo)
	for _, a := range []Authority{
		auth("U1", Scope{Project: "P1", Departments: []string{"Dept1"}}),
		auth("U2", Scope{Departments: []string{"Dept1"}}),
	} {
		if _, err := r.Save(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	ok, err := r.HasAuthority(ctx, "U1", "P1", "Dept1")
	if err != nil || !ok {
		t.Fatalf("U1: ok=%v err=%v", ok, err)
	}
	// project match exists, so the department-only scope does not apply
	if ok, _ := r.HasAuthority(ctx, "U2", "P1", "Dept1"); ok {
		t.Fatal("U2 should not have authority when a project match exists")
	}
	if ok, _ := r.HasAuthority(ctx, "U2", "P7", "Dept1"); !ok {
		t.Fatal("U2 should have department-only authority on P7")
	}
	if ok, _ := r.HasAuthority(ctx, "U1", "", "Dept1"); ok {
		t.Fatal("no authority without a project")
	}
}

func TestFromAssignment(t *testing.T) {
	cases := []struct {
		name string
		in   Assignment
		want []Scope
	}{
		{"project", Assignment{Type: AssignProject, Projects: []string{"P2", "P1", "P1"}},
			[]Scope{{Project: "P1"}, {Project: "P2"}}},
		{"department", Assignment{Type: AssignDepartment, Departments: []string{"D2", "D1"}},
			[]Scope{{Departments: []string{"D1", "D2"}}}},
		{"department project", Assignment{Type: AssignDepartmentProject, DepartmentProjects: []DepartmentProject{
			{Project: "P1", Department: "D2"}, {Project: "P1", Department: "D1"}, {Project: "P2", Department: "D1"},
		}}, []Scope{{Project: "P1", Departments: []string{"D1", "D2"}}, {Project: "P2", Departments: []string{"D1"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.Principal = approval.Principal{ID: "U1"}
			got, err := FromAssignment(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Active {
				t.Fatal("expected active by default")
			}
			if len(got.Scopes) != len(tc.want) {
				t.Fatalf("scopes=%+v", got.Scopes)
			}
			for i := range tc.want {
				if got.Scopes[i].Project != tc.want[i].Project || !equal(got.Scopes[i].Departments, tc.want[i].Departments) {
					t.Fatalf("scope %d = %+v, want %+v", i, got.Scopes[i], tc.want[i])
				}
			}
		})
	}
}

func TestFromAssignmentRejectsEmpty(t *testing.T) {
	for _, a := range []Assignment{
		{Principal: approval.Principal{ID: "U1"}, Type: AssignProject},
		{Principal: approval.Principal{ID: "U1"}, Type: AssignDepartmentProject, DepartmentProjects: []DepartmentProject{{Project: "P1"}}},
		{Principal: approval.Principal{ID: "U1"}, Type: "team"},
		{Type: AssignProject, Projects: []string{"P1"}},
	} {
		if _, err := FromAssignment(a); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", a, err)
		}
	}
}

func TestMigrateMergesByPrincipal(t *testing.T) {
	r := NewResolver(NewMemory())
	ctx := context.Background()
	res, err := r.Migrate(ctx, []Assignment{
		{Principal: approval.Principal{ID: "U1"}, Type: AssignProject, Projects: []string{"P1"}},
		{Principal: approval.Principal{ID: "U1"}, Type: AssignDepartment, Departments: []string{"D4"}},
		{Principal: approval.Principal{ID: "U2"}, Type: "bogus"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Migrated) != 1 || len(res.Migrated[0].Scopes) != 2 {
		t.Fatalf("migrated=%+v", res.Migrated)
	}
	if len(res.Failed) != 1 || res.Failed[0].Index != 2 {
		t.Fatalf("failed=%+v", res.Failed)
	}
	got, _ := r.ResolveApprovers(ctx, "P1", "")
	if !equal(principalIDs(got), []string{"U1"}) {
		t.Fatalf("resolve after migrate: %v", principalIDs(got))
	}
}
