package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/level0"
	"tovus.net/evalflow/internal/levelconfig"
	"tovus.net/evalflow/internal/obs"
	"tovus.net/evalflow/internal/tracking"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSON reads exactly one JSON value; unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// readObject returns the raw body, which must be a JSON object. An empty body is "{}".
func readObject(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage("{}"), nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return body, nil
}

// handleWorkflowError maps domain errors to status codes.
func handleWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, approval.ErrNotFound), errors.Is(err, tracking.ErrNotFound),
		errors.Is(err, levelconfig.ErrNotFound), errors.Is(err, level0.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidState), errors.Is(err, approval.ErrValidation),
		errors.Is(err, levelconfig.ErrInvalidInput), errors.Is(err, level0.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, approval.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, approval.ErrConflict):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		obs.Logger().Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, code, "internal error")
		return
	}
	payload := map[string]any{"error": err.Error()}
	if errors.Is(err, approval.ErrAlreadySubmitted) {
		payload["alreadySubmitted"] = true
	}
	writeErrorBody(w, r, code, payload)
}
