package workflow

import (
	"context"
	"errors"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/masterdata"
)

const noDepartment = "no-department"

type DepartmentRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// DepartmentGroup is one card of the HR dashboard.
type DepartmentGroup struct {
	Department DepartmentRef        `json:"department"`
	HOD        *masterdata.Employee `json:"hod"`
	Documents  []approval.Document  `json:"documents"`
}

// Grouped lists documents by department, newest first, skipping inactive departments.
func (o *Orchestrator) Grouped(ctx context.Context, f approval.Filter) ([]DepartmentGroup, error) {
	docs, err := o.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	var order []string
	groups := map[string]*DepartmentGroup{}
	skip := map[string]bool{}
	for _, d := range docs {
		key := d.DepartmentID
		if key == "" {
			key = noDepartment
		}
		if skip[key] {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &DepartmentGroup{Department: DepartmentRef{Name: "No Department"}, Documents: []approval.Document{}}
			if key != noDepartment {
				dep, err := o.directory.Department(ctx, key)
				switch {
				case err == nil && !dep.Active:
					skip[key] = true
					continue
				case err == nil:
					g.Department = DepartmentRef{ID: dep.ID, Name: dep.Name}
					if dep.HOD != "" {
						if hod, err := o.directory.Employee(ctx, dep.HOD); err == nil {
							g.HOD = &hod
						}
					}
				case errors.Is(err, masterdata.ErrNotFound):
					g.Department = DepartmentRef{ID: key, Name: key}
				default:
					return nil, internal(err)
				}
			}
			groups[key] = g
			order = append(order, key)
		}
		g.Documents = append(g.Documents, d)
	}
	out := make([]DepartmentGroup, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}
