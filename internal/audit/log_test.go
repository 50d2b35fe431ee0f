package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/obs"
)

func TestLogEventCarriesActorAndRequest(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{UserID: "user-42", EmployeeID: "E7", Roles: []string{"HR"}})

	if err := LogEvent(ctx, "documents.approve", map[string]any{"document_id": "d1", "level": 2}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	var entry struct {
		Type      string `json:"type"`
		Area      string `json:"area"`
		Event     string `json:"event"`
		RequestID string `json:"request_id"`
		Actor     struct {
			ID         string   `json:"id"`
			EmployeeID string   `json:"employee_id"`
			Roles      []string `json:"roles"`
		} `json:"actor"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%s)", err, buf.String())
	}
	if entry.Type != "audit" || entry.Area != "documents" || entry.Event != "documents.approve" {
		t.Fatalf("unexpected header: %+v", entry)
	}
	if entry.RequestID != "req-123" {
		t.Fatalf("request id: %q", entry.RequestID)
	}
	if entry.Actor.ID != "user-42" || entry.Actor.EmployeeID != "E7" || len(entry.Actor.Roles) != 1 || entry.Actor.Roles[0] != "hr" {
		t.Fatalf("actor: %+v", entry.Actor)
	}
	if entry.Fields["document_id"] != "d1" || entry.Fields["level"] != float64(2) {
		t.Fatalf("fields: %v", entry.Fields)
	}
}

func TestLogEventAnonymous(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	if err := LogEvent(context.Background(), "auth.login", nil); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := entry["actor"]; ok {
		t.Fatalf("anonymous event must not carry an actor: %v", entry)
	}
	if _, ok := entry["fields"]; ok {
		t.Fatalf("empty fields should be omitted: %v", entry)
	}
}

func TestLogEventRequiresDottedName(t *testing.T) {
	for _, name := range []string{"", "  ", "approve", ".approve", "documents."} {
		if err := LogEvent(context.Background(), name, nil); err == nil {
			t.Fatalf("%q: expected error", name)
		}
	}
}
