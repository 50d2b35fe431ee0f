package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tovus.net/evalflow/internal/obs"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	err := LogNotifier{}.NotifyEvaluator(context.Background(),
		Recipient{ID: "EV1", Email: "ev1@example.com"},
		[]Link{{DocumentID: "D1"}, {DocumentID: "D2"}})
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["evaluator_id"] != "EV1" || entry["links"] != float64(2) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestLogNotifierRequiresAddress(t *testing.T) {
	err := LogNotifier{}.NotifyEvaluator(context.Background(), Recipient{ID: "EV1"}, nil)
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}
