package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"tovus.net/evalflow/internal/approval"
)

func TestCommitChecksVersion(t *testing.T) {
	s := NewDocuments()
	ctx := context.Background()
	d, err := s.Create(ctx, approval.Document{ID: "D1", Status: approval.StatusDraft})
	if err != nil {
		t.Fatal(err)
	}
	d.Status = approval.StatusSent
	saved, err := s.Commit(ctx, d, d.Version)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Version != 2 {
		t.Fatalf("version=%d", saved.Version)
	}
	if _, err := s.Commit(ctx, d, 1); !errors.Is(err, approval.ErrConflict) {
		t.Fatalf("stale write: expected ErrConflict, got %v", err)
	}
	if _, err := s.Commit(ctx, approval.Document{ID: "nope"}, 1); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCommitsOneWins(t *testing.T) {
	s := NewDocuments()
	ctx := context.Background()
	d, _ := s.Create(ctx, approval.Document{ID: "D1"})

	var ok, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Commit(ctx, d, d.Version)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, approval.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != 19 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}
}

func TestListFiltersAndIsolatesCopies(t *testing.T) {
	s := NewDocuments()
	ctx := context.Background()
	_, _ = s.Create(ctx, approval.Document{ID: "D1", Status: approval.StatusSent, FormType: approval.FormBlueCollar})
	_, _ = s.Create(ctx, approval.Document{ID: "D2", Status: approval.StatusDraft, FormType: approval.FormBlueCollar})

	got, _ := s.List(ctx, approval.Filter{Status: approval.StatusSent})
	if len(got) != 1 || got[0].ID != "D1" {
		t.Fatalf("list=%+v", got)
	}
	got[0].Status = approval.StatusArchived
	again, _ := s.Get(ctx, "D1")
	if again.Status != approval.StatusSent {
		t.Fatal("List must return copies")
	}
}
