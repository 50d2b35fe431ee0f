package httpapi

import (
	"net/http"
	"strings"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/level0"
	"tovus.net/evalflow/internal/levelconfig"
)

type levelInput struct {
	Level    approval.Level     `json:"level"`
	Title    string             `json:"title"`
	Assignee approval.Principal `json:"assignee"`
}

type putLevelsRequest struct {
	Module approval.Module `json:"module"`
	Levels []levelInput    `json:"levels"`
}

type migrateRequest struct {
	Assignments []level0.Assignment `json:"assignments"`
}

func (a *API) moduleParam(r *http.Request) approval.Module {
	if m := strings.TrimSpace(r.URL.Query().Get("module")); m != "" {
		return approval.Module(m)
	}
	return a.workflow.Module()
}

func (a *API) handleApprovalLevels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rows, err := a.levels.GetActiveForModule(r.Context(), a.moduleParam(r))
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"module": a.moduleParam(r), "levels": rows})
	case http.MethodPut:
		a.putApprovalLevels(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// putApprovalLevels makes each given row the active assignee of its level.
func (a *API) putApprovalLevels(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermLevelsManage) {
		return
	}
	var req putLevelsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Module == "" {
		req.Module = a.workflow.Module()
	}
	if len(req.Levels) == 0 {
		writeError(w, r, http.StatusBadRequest, "levels are required")
		return
	}
	saved := make([]levelconfig.Configuration, 0, len(req.Levels))
	for _, in := range req.Levels {
		c, err := a.levels.Upsert(r.Context(), levelconfig.Configuration{
			Module:   req.Module,
			Level:    in.Level,
			Title:    in.Title,
			Assignee: in.Assignee,
		})
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		saved = append(saved, c)
	}
	actor, _ := actorFrom(r.Context())
	a.audit(r, "approval_levels.update", map[string]any{"module": string(req.Module), "count": len(saved), "actor": actor.PrincipalID})
	writeJSON(w, http.StatusOK, map[string]any{"module": req.Module, "levels": saved})
}

// handleAssignedLevels lists the caller's levels and whether they can approve at all.
func (a *API) handleAssignedLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	rows, err := a.levels.AssignedLevels(r.Context(), a.moduleParam(r), actor.PrincipalID)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	auths, err := a.level0.List(r.Context(), true)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	level0Approver := false
	for _, au := range auths {
		if au.Principal.ID == actor.PrincipalID {
			level0Approver = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"levels":         rows,
		"level0Approver": level0Approver,
		"canApprove":     len(rows) > 0 || level0Approver,
	})
}

func (a *API) handleAuthorities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") != "false"
		list, err := a.level0.List(r.Context(), activeOnly)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermAuthoritiesManage) {
			return
		}
		var in level0.Authority
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := a.level0.Save(r.Context(), in)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		a.audit(r, "level0_authorities.save", map[string]any{"principal": saved.Principal.ID, "scopes": len(saved.Scopes)})
		writeJSON(w, http.StatusCreated, saved)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleResolveAuthorities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	project, department := strings.TrimSpace(q.Get("project")), strings.TrimSpace(q.Get("department"))
	approvers, err := a.level0.ResolveApprovers(r.Context(), project, department)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":    project,
		"department": department,
		"approvers":  approvers,
	})
}

func (a *API) handleMigrateAuthorities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAuthoritiesManage) {
		return
	}
	var req migrateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.level0.Migrate(r.Context(), req.Assignments)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	a.audit(r, "level0_authorities.migrate", map[string]any{"migrated": len(res.Migrated), "failed": len(res.Failed)})
	writeJSON(w, http.StatusOK, res)
}
