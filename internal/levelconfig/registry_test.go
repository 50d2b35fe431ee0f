package levelconfig

import (
	"context"
	"errors"
	"testing"

	"tovus.net/evalflow/internal/approval"
)

const mod = approval.ModuleEvaluationAppraisal

func seed(t *testing.T, r *Registry, level approval.Level, who string) Configuration {
	t.Helper()
	c, err := r.Upsert(context.Background(), Configuration{Module: mod, Level: level, Title: "L" + level.String(), Assignee: approval.Principal{ID: who}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return c
}

func TestUpsertKeepsOneActiveRowPerLevel(t *testing.T) {
	r := NewRegistry(NewMemory())
	ctx := context.Background()
	seed(t, r, approval.Level2, "U2")
	seed(t, r, approval.Level1, "U1")
	seed(t, r, approval.Level1, "U9")

	rows, err := r.GetActiveForModule(ctx, mod)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Level != approval.Level1 || rows[0].Assignee.ID != "U9" || rows[1].Level != approval.Level2 {
		t.Fatalf("unexpected active rows: %+v", rows)
	}

	if ok, _ := r.IsUserAssigned(ctx, approval.LevelKey{Module: mod, Level: approval.Level1}, "U1"); ok {
		t.Fatal("replaced assignee must lose authority")
	}
	if ok, _ := r.IsUserAssigned(ctx, approval.LevelKey{Module: mod, Level: approval.Level1}, "U9"); !ok {
		t.Fatal("new assignee must have authority")
	}
}

func TestUpsertValidation(t *testing.T) {
	r := NewRegistry(NewMemory())
	cases := []struct {
		name string
		in   Configuration
	}{
		{"module", Configuration{Module: "payroll", Level: 1, Title: "x", Assignee: approval.Principal{ID: "U"}}},
		{"level zero", Configuration{Module: mod, Level: 0, Title: "x", Assignee: approval.Principal{ID: "U"}}},
		{"level eleven", Configuration{Module: mod, Level: 11, Title: "x", Assignee: approval.Principal{ID: "U"}}},
		{"title", Configuration{Module: mod, Level: 1, Title: "  ", Assignee: approval.Principal{ID: "U"}}},
		{"assignee", Configuration{Module: mod, Level: 1, Title: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Upsert(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAssignmentsOnlyWorkflowLevels(t *testing.T) {
	r := NewRegistry(NewMemory())
	seed(t, r, approval.Level3, "U3")
	seed(t, r, approval.Level(7), "U7")
	seed(t, r, approval.Level1, "U1")

	got, err := r.Assignments(context.Background(), mod)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Level != approval.Level1 || got[1].Level != approval.Level3 {
		t.Fatalf("assignments=%+v", got)
	}
}

func TestDeactivate(t *testing.T) {
	r := NewRegistry(NewMemory())
	ctx := context.Background()
	c := seed(t, r, approval.Level1, "U1")
	if err := r.Deactivate(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.IsUserAssigned(ctx, approval.LevelKey{Module: mod, Level: approval.Level1}, "U1"); ok {
		t.Fatal("deactivated row still grants authority")
	}
	if err := r.Deactivate(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	levels, _ := r.AssignedLevels(ctx, mod, "U1")
	if len(levels) != 0 {
		t.Fatalf("assigned levels=%+v", levels)
	}
}
