package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		status   approval.Status
		approval approval.ApprovalStatus
		want     string
	}{
		{approval.StatusDraft, approval.ApprovalPending, LedgerRegistered},
		{approval.StatusSent, approval.ApprovalPending, LedgerSent},
		{approval.StatusInProgress, approval.ApprovalPending, LedgerInReview},
		{approval.StatusSubmitted, approval.ApprovalPending, LedgerInReview},
		{approval.StatusSubmitted, approval.ApprovalInProgress, LedgerInApproval},
		{approval.StatusRejected, approval.ApprovalRejected, LedgerInReview},
		{approval.StatusCompleted, approval.ApprovalApproved, LedgerCompleted},
		{approval.StatusArchived, approval.ApprovalApproved, LedgerArchived},
	}
	for _, tc := range cases {
		got := MapStatus(approval.Document{Status: tc.status, ApprovalStatus: tc.approval})
		if got != tc.want {
			t.Fatalf("%s/%s: got %q want %q", tc.status, tc.approval, got, tc.want)
		}
	}
}

func TestFromChangeHolderFollowsNextLevel(t *testing.T) {
	two := approval.Level2
	doc := approval.Document{
		ID:                   "D1",
		Status:               approval.StatusSubmitted,
		ApprovalStatus:       approval.ApprovalInProgress,
		CurrentApprovalLevel: &two,
		ApprovalLevels: []approval.LevelEntry{
			{Level: approval.Level1, Status: approval.EntryApproved},
			{Level: approval.Level2, Title: "HOD", Assignee: approval.Principal{ID: "U3"}, Status: approval.EntryPending},
		},
	}
	evt := FromChange(approval.Change{Action: approval.ActionMovedToNext, Document: doc})
	if evt.Holder.Principal != "U3" || evt.Holder.Name != "HOD" {
		t.Fatalf("holder=%+v", evt.Holder)
	}
	if evt.Status != "in_approval" || evt.LedgerStatus != LedgerInApproval {
		t.Fatalf("status=%s ledger=%s", evt.Status, evt.LedgerStatus)
	}
}

func TestMemoryLedgerTimeline(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = m.Record(ctx, Event{DocumentID: "D1", Action: approval.ActionSent, Status: "sent", LedgerStatus: LedgerSent, At: t0})
	_ = m.Record(ctx, Event{DocumentID: "D1", Action: approval.ActionSubmitted, Status: "submitted", LedgerStatus: LedgerInReview, At: t0.Add(time.Hour)})

	r, err := m.Get(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Timeline) != 2 || r.LedgerStatus != LedgerInReview {
		t.Fatalf("record=%+v", r)
	}
	list, _ := m.List(ctx, LedgerSent)
	if len(list) != 0 {
		t.Fatalf("filter by status returned %d records", len(list))
	}
	if _, err := m.Get(ctx, "D2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type flakySink struct {
	mu    sync.Mutex
	fail  bool
	saved []Event
}

func (s *flakySink) Record(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("ledger unavailable")
	}
	s.saved = append(s.saved, evt)
	return nil
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := &flakySink{}
	d := NewDispatcher(sink, WithQueue(64))
	for i := 0; i < 50; i++ {
		d.Publish(Event{DocumentID: "D1", Action: approval.ActionApproved})
	}
	d.Close()
	if len(sink.saved) != 50 {
		t.Fatalf("drained %d of 50 events", len(sink.saved))
	}
	for _, evt := range sink.saved {
		if evt.ID == "" || evt.At.IsZero() {
			t.Fatalf("event not stamped: %+v", evt)
		}
	}
}

func TestDispatcherPublishAfterClose(t *testing.T) {
	sink := &flakySink{}
	d := NewDispatcher(sink)
	d.Publish(Event{DocumentID: "D1", Action: approval.ActionApproved})
	d.Close()

	// запоздавший хэндлер после shutdown
	d.Publish(Event{DocumentID: "D2", Action: approval.ActionApproved})
	d.Close()
	if len(sink.saved) != 1 || sink.saved[0].DocumentID != "D1" {
		t.Fatalf("saved=%+v", sink.saved)
	}
}

func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	sink := &flakySink{fail: true}
	s := stream.New[Event](4)
	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Subscribe(ctx)

	d := NewDispatcher(sink, WithStream(s))
	d.Publish(Event{DocumentID: "D1", Action: approval.ActionRejected})
	d.Close()

	select {
	case evt := <-sub:
		t.Fatalf("failed write must not be streamed: %+v", evt)
	default:
	}
	cancel()
	// let the stream release its subscriber goroutine before goleak checks
	for range sub {
	}
}
