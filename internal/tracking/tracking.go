package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tovus.net/evalflow/internal/approval"
)

var ErrNotFound = errors.New("tracking: record not found")

// Ledger statuses shown on the document-location board.
const (
	LedgerRegistered = "Registered"
	LedgerSent       = "Sent"
	LedgerInReview   = "In Review"
	LedgerInApproval = "In Approval"
	LedgerCompleted  = "Completed"
	LedgerArchived   = "Archived"
)

// MapStatus folds document state into a ledger status.
func MapStatus(d approval.Document) string {
	switch {
	case d.Status == approval.StatusArchived:
		return LedgerArchived
	case d.Status == approval.StatusCompleted || d.ApprovalStatus == approval.ApprovalApproved:
		return LedgerCompleted
	case d.ApprovalStatus == approval.ApprovalInProgress:
		return LedgerInApproval
	case d.Status == approval.StatusSubmitted, d.Status == approval.StatusInProgress, d.Status == approval.StatusRejected:
		return LedgerInReview
	case d.Status == approval.StatusSent:
		return LedgerSent
	}
	return LedgerRegistered
}

// Holder is who has the document after an event.
type Holder struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Principal string `json:"principal,omitempty"`
}

var systemHolder = Holder{Type: "system", Name: "System"}

// Event is one mirrored transition.
type Event struct {
	ID           string          `json:"id"`
	DocumentID   string          `json:"documentId"`
	EmployeeID   string          `json:"employee"`
	EmployeeName string          `json:"employeeName,omitempty"`
	FormType     string          `json:"formType"`
	Action       approval.Action `json:"action"`
	Status       string          `json:"status"`
	LedgerStatus string          `json:"ledgerStatus"`
	Level        *approval.Level `json:"level,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	Holder       Holder          `json:"holder"`
	Comments     string          `json:"comments,omitempty"`
	At           time.Time       `json:"at"`
}

// FromChange builds the event for a committed change.
func FromChange(ch approval.Change) Event {
	d := ch.Document
	evt := Event{
		DocumentID:   d.ID,
		EmployeeID:   d.EmployeeID,
		EmployeeName: d.Content.Name,
		FormType:     string(d.FormType),
		Action:       ch.Action,
		Status:       string(d.Status),
		LedgerStatus: MapStatus(d),
		Level:        ch.Level,
		Actor:        ch.Actor.ID,
		Holder:       systemHolder,
		Comments:     ch.Comments,
		At:           d.UpdatedAt,
	}
	switch ch.Action {
	case approval.ActionSent:
		evt.Holder = Holder{Type: "evaluator", Principal: d.EvaluatorID}
	case approval.ActionApproved, approval.ActionMovedToNext:
		evt.Status = "in_approval"
		evt.Holder = nextHolder(d)
	case approval.ActionRejected:
		evt.Holder = Holder{Type: "evaluator", Principal: d.EvaluatorID}
	case approval.ActionEdited, approval.ActionResubmitted:
		evt.Holder = Holder{Type: "approver", Name: ch.Actor.Name, Principal: ch.Actor.ID}
	case approval.ActionSubmitted:
		if d.CurrentApprovalLevel != nil {
			evt.Holder = nextHolder(d)
		}
	}
	return evt
}

// nextHolder is the approver the document now waits on.
func nextHolder(d approval.Document) Holder {
	if d.CurrentApprovalLevel == nil {
		return systemHolder
	}
	if *d.CurrentApprovalLevel == approval.Level0 {
		for _, a := range d.Level0Approvers {
			if a.Status == approval.EntryPending {
				return Holder{Type: "approver", Name: a.Principal.Name, Principal: a.Principal.ID}
			}
		}
		return systemHolder
	}
	if e, ok := d.Entry(*d.CurrentApprovalLevel); ok {
		name := e.Assignee.Name
		if name == "" {
			name = e.Title
		}
		return Holder{Type: "approver", Name: name, Principal: e.Assignee.ID}
	}
	return systemHolder
}

// Sink receives events; implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

// TimelineEntry is one row of a document's movement history.
type TimelineEntry struct {
	Status   string          `json:"status"`
	Action   approval.Action `json:"action"`
	Comments string          `json:"comments,omitempty"`
	Holder   Holder          `json:"holder"`
	At       time.Time       `json:"at"`
}

// Record is the per-document tracking view.
type Record struct {
	DocumentID    string          `json:"documentId"`
	EmployeeID    string          `json:"employee"`
	EmployeeName  string          `json:"employeeName,omitempty"`
	FormType      string          `json:"formType"`
	Status        string          `json:"status"`
	LedgerStatus  string          `json:"ledgerStatus"`
	CurrentHolder Holder          `json:"currentHolder"`
	Timeline      []TimelineEntry `json:"timeline"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Ledger is a Sink that can be queried.
type Ledger interface {
	Sink
	Get(ctx context.Context, documentID string) (Record, error)
	List(ctx context.Context, ledgerStatus string) ([]Record, error)
}

// Apply folds evt into r.
func (r *Record) Apply(evt Event) {
	if r.DocumentID == "" {
		r.DocumentID = evt.DocumentID
		r.EmployeeID = evt.EmployeeID
	}
	if evt.EmployeeName != "" {
		r.EmployeeName = evt.EmployeeName
	}
	r.FormType = evt.FormType
	r.Status = evt.Status
	r.LedgerStatus = evt.LedgerStatus
	r.CurrentHolder = evt.Holder
	r.Timeline = append(r.Timeline, TimelineEntry{
		Status:   evt.Status,
		Action:   evt.Action,
		Comments: evt.Comments,
		Holder:   evt.Holder,
		At:       evt.At,
	})
	r.UpdatedAt = evt.At
}

// Memory is an in-process Ledger.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func (m *Memory) Record(ctx context.Context, evt Event) error {
	if evt.DocumentID == "" {
		return fmt.Errorf("tracking: event without document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[evt.DocumentID]
	if !ok {
		r = &Record{}
		m.records[evt.DocumentID] = r
	}
	r.Apply(evt)
	return nil
}

func (m *Memory) Get(ctx context.Context, documentID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[documentID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.copy(), nil
}

func (m *Memory) List(ctx context.Context, ledgerStatus string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if ledgerStatus != "" && r.LedgerStatus != ledgerStatus {
			continue
		}
		out = append(out, r.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *Record) copy() Record {
	out := *r
	out.Timeline = append([]TimelineEntry(nil), r.Timeline...)
	return out
}
