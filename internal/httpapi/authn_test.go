package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tovus.net/evalflow/internal/auth"
)

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"admin"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"viewer"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestIsTokenAccess(t *testing.T) {
	tests := []struct {
		method string
		target string
		auth   string
		want   bool
	}{
		{http.MethodGet, "/v1/documents/doc-1?token=abc", "", true},
		{http.MethodPut, "/v1/documents/doc-1?token=abc", "", true},
		{http.MethodGet, "/v1/documents/doc-1", "", false},
		{http.MethodGet, "/v1/documents/doc-1?token=abc", "Bearer x", false},
		{http.MethodDelete, "/v1/documents/doc-1?token=abc", "", false},
		{http.MethodPost, "/v1/documents/doc-1/approve?token=abc", "", false},
		{http.MethodGet, "/v1/documents/events?token=abc", "", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		if got := isTokenAccess(req); got != tc.want {
			t.Fatalf("isTokenAccess(%s %s) = %v, want %v", tc.method, tc.target, got, tc.want)
		}
	}
}

func TestParseLevelAction(t *testing.T) {
	tests := []struct {
		in        string
		wantLevel int
		wantVerb  string
		ok        bool
	}{
		{"level0-approve", 0, "approve", true},
		{"level2-edit", 2, "edit", true},
		{"level1-resubmit", 1, "resubmit", true},
		{"level9-edit", 0, "", false},
		{"level2-delete", 0, "", false},
		{"levelx-edit", 0, "", false},
		{"approve", 0, "", false},
	}
	for _, tc := range tests {
		level, verb, ok := parseLevelAction(tc.in)
		if ok != tc.ok || int(level) != tc.wantLevel || verb != tc.wantVerb {
			t.Fatalf("parseLevelAction(%q) = (%d, %q, %v)", tc.in, level, verb, ok)
		}
	}
}
