package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/workflow"
)

// documentCollectionRoutes are fixed segments under /v1/documents/ that are not ids.
var documentCollectionRoutes = map[string]bool{
	"bulk-approve": true,
	"send":         true,
	"events":       true,
	"dashboard":    true,
}

type commentsRequest struct {
	Comments string `json:"comments"`
}

type statusRequest struct {
	Status approval.Status `json:"status"`
}

type contentMeta struct {
	Status      string `json:"status"`
	EditSummary string `json:"editSummary"`
}

func (a *API) handleDocumentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listDocuments(w, r)
	case http.MethodPost:
		a.createDocument(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 || documentCollectionRoutes[parts[0]] {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a.getDocument(w, r, id)
		case http.MethodPut:
			a.updateDocument(w, r, id)
		case http.MethodDelete:
			a.deleteDocument(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
		return
	}

	action := parts[1]
	switch action {
	case "approve", "reject":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.decide(w, r, id, action, nil)
		return
	case "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.setStatus(w, r, id)
		return
	case "tracking":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.documentTracking(w, r, id)
		return
	}

	level, verb, ok := parseLevelAction(action)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch verb {
	case "approve", "reject":
		if level != approval.Level0 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.decide(w, r, id, verb, &level)
	case "edit":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPut, http.MethodPost)
			return
		}
		a.edit(w, r, id, level, false)
	case "resubmit":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.edit(w, r, id, level, true)
	}
}

// parseLevelAction splits "level2-edit" into (2, "edit").
func parseLevelAction(s string) (approval.Level, string, bool) {
	if !strings.HasPrefix(s, "level") {
		return 0, "", false
	}
	num, verb, found := strings.Cut(strings.TrimPrefix(s, "level"), "-")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil || !approval.Level(n).Valid() {
		return 0, "", false
	}
	switch verb {
	case "approve", "reject", "edit", "resubmit":
		return approval.Level(n), verb, true
	}
	return 0, "", false
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	docs, err := a.workflow.List(r.Context(), f)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
}

func parseFilter(w http.ResponseWriter, r *http.Request) (approval.Filter, bool) {
	q := r.URL.Query()
	f := approval.Filter{
		Status:   approval.Status(strings.TrimSpace(q.Get("status"))),
		FormType: approval.FormType(strings.TrimSpace(q.Get("formType"))),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown status %q", f.Status))
		return f, false
	}
	if f.FormType != "" && !f.FormType.Valid() {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown formType %q", f.FormType))
		return f, false
	}
	return f, true
}

func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req workflow.CreateInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := a.workflow.Create(r.Context(), req, actor)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/documents/"+doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	if _, authed := actorFrom(r.Context()); !authed {
		doc, err := a.workflow.GetWithToken(r.Context(), id, r.URL.Query().Get("token"))
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}
	doc, err := a.workflow.Get(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) updateDocument(w http.ResponseWriter, r *http.Request, id string) {
	raw, err := readObject(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var meta contentMeta
	_ = json.Unmarshal(raw, &meta)

	in := workflow.UpdateInput{Patch: raw, Submit: meta.Status == string(approval.StatusSubmitted)}
	if actor, ok := actorFrom(r.Context()); ok {
		in.Actor = actor
	} else {
		in.Token = r.URL.Query().Get("token")
		in.Actor = approval.Actor{Name: "evaluator"}
	}
	doc, err := a.workflow.Update(r.Context(), id, in)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, auth.PermDocumentsManage) {
		return
	}
	actor, _ := actorFrom(r.Context())
	if err := a.workflow.Delete(r.Context(), id, actor); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decide approves or rejects; level pins the expected current level.
func (a *API) decide(w http.ResponseWriter, r *http.Request, id, verb string, level *approval.Level) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req commentsRequest
	if raw, err := readObject(w, r); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	} else if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		doc approval.Document
		err error
	)
	switch {
	case verb == "approve" && level != nil:
		doc, err = a.workflow.ApproveAt(r.Context(), id, *level, actor, req.Comments)
	case verb == "approve":
		doc, err = a.workflow.Approve(r.Context(), id, actor, req.Comments)
	case level != nil:
		doc, err = a.workflow.RejectAt(r.Context(), id, *level, actor, req.Comments)
	default:
		doc, err = a.workflow.Reject(r.Context(), id, actor, req.Comments)
	}
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) edit(w http.ResponseWriter, r *http.Request, id string, level approval.Level, resubmit bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	raw, err := readObject(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var meta contentMeta
	_ = json.Unmarshal(raw, &meta)
	doc, err := a.workflow.Edit(r.Context(), id, workflow.EditInput{
		Level:    level,
		Actor:    actor,
		Patch:    raw,
		Summary:  meta.EditSummary,
		Resubmit: resubmit,
	})
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) setStatus(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, auth.PermDocumentsManage) {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := actorFrom(r.Context())
	doc, err := a.workflow.SetStatus(r.Context(), id, req.Status, actor)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req workflow.BulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.workflow.BulkApprove(r.Context(), req, actor)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req workflow.SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := actorFrom(r.Context())
	results, err := a.workflow.Send(r.Context(), req, actor)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"results": results, "count": len(results)})
}

func (a *API) handleGrouped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	groups, err := a.workflow.Grouped(r.Context(), f)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}
