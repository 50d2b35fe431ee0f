package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/documents":                      "/v1/documents",
		"/v1/documents/01HX":                 "/v1/documents/:id",
		"/v1/documents/01HX/approve":         "/v1/documents/:id/approve",
		"/v1/documents/01HX/level2-resubmit": "/v1/documents/:id/level2-resubmit",
		"/v1/documents/01HX/a/b":             "/v1/documents/01HX/a/b",
		"/v1/documents/bulk-approve":         "/v1/documents/bulk-approve",
		"/v1/documents/dashboard/grouped":    "/v1/documents/dashboard/grouped",
		"/v1/documents/01HX?token=abc":       "/v1/documents/:id",
		"/v1/level0-authorities/resolve":     "/v1/level0-authorities/resolve",
		"/v1/level0-authorities/u-1":         "/v1/level0-authorities/:id",
		"/v1/approval-levels/assigned":       "/v1/approval-levels/assigned",
		"/v1/approval-levels/01HY":           "/v1/approval-levels/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestLogRequestLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	LogRequest(map[string]any{"msg": "request_complete", "status": 503, "path": "/x"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["level"] != "error" {
		t.Fatalf("expected error level, got %v", entry["level"])
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}
