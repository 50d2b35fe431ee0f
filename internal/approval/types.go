package approval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSent       Status = "sent"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusRejected   Status = "rejected"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusInProgress, StatusSubmitted, StatusRejected, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// ApprovalStatus is derived from the level-0 tier and approval levels; see DeriveApprovalStatus.
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalInProgress ApprovalStatus = "in_progress"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
)

// Level0Status describes the dynamically resolved first tier.
type Level0Status string

const (
	Level0NotRequired Level0Status = "not_required"
	Level0Pending     Level0Status = "pending"
	Level0Approved    Level0Status = "approved"
	Level0Rejected    Level0Status = "rejected"
)

// EntryStatus is the state of a single approver record.
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryApproved EntryStatus = "approved"
	EntryRejected EntryStatus = "rejected"
)

// FormType selects the scoring sheet.
type FormType string

const (
	FormBlueCollar  FormType = "blue_collar"
	FormWhiteCollar FormType = "white_collar"
)

func (f FormType) Valid() bool { return f == FormBlueCollar || f == FormWhiteCollar }

// Module names a workflow that owns an approval level configuration.
type Module string

const ModuleEvaluationAppraisal Module = "evaluation_appraisal"

func (m Module) Valid() bool { return m == ModuleEvaluationAppraisal }

// Level is an approval tier. Level0 is resolved per document, 1..4 are configured.
type Level int

const (
	Level0 Level = iota
	Level1
	Level2
	Level3
	Level4
)

// MaxConfigLevel bounds configuration rows; the workflow reads only 1..4.
const MaxConfigLevel Level = 10

// Levels lists the statically configured tiers in order.
var Levels = []Level{Level1, Level2, Level3, Level4}

func (l Level) Valid() bool { return l >= Level0 && l <= Level4 }

func (l Level) String() string { return strconv.Itoa(int(l)) }

// ParseLevel parses "0".."4".
func ParseLevel(s string) (Level, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Level(n).Valid() {
		return 0, fmt.Errorf("%w: unknown approval level %q", ErrValidation, s)
	}
	return Level(n), nil
}

// LevelKey identifies a configured tier of a module.
type LevelKey struct {
	Module Module `json:"module"`
	Level  Level  `json:"level"`
}

func (k LevelKey) Valid() bool { return k.Module.Valid() && k.Level >= Level1 && k.Level <= Level4 }

// Principal references an actor capable of approving.
type Principal struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
}

// Actor is the caller of a transition.
type Actor struct {
	PrincipalID string
	Name        string
	EmployeeID  string
}

func (a Actor) Ref() Principal {
	return Principal{ID: a.PrincipalID, Name: a.Name, EmployeeID: a.EmployeeID}
}

// Level0Approver is one concurrence slot of level 0.
type Level0Approver struct {
	Principal  Principal   `json:"principal"`
	Status     EntryStatus `json:"status"`
	ApprovedAt *time.Time  `json:"approvedAt,omitempty"`
	RejectedAt *time.Time  `json:"rejectedAt,omitempty"`
	Comments   string      `json:"comments,omitempty"`
}

// LevelEntry is a configured tier copied onto the document; Assignee is the snapshot.
type LevelEntry struct {
	Level      Level       `json:"level"`
	Title      string      `json:"title"`
	Assignee   Principal   `json:"assignee"`
	Status     EntryStatus `json:"status"`
	ApprovedAt *time.Time  `json:"approvedAt,omitempty"`
	RejectedAt *time.Time  `json:"rejectedAt,omitempty"`
	ReopenedAt *time.Time  `json:"reopenedAt,omitempty"`
	ActedBy    string      `json:"actedBy,omitempty"`
	Comments   string      `json:"comments,omitempty"`
}

// LevelAssignment is a configured (level, principal) pair used to build entries.
type LevelAssignment struct {
	Level    Level
	Title    string
	Assignee Principal
}

// FieldChange is one scored field that differs between edits.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// EditRecord is an append-only history item.
type EditRecord struct {
	Editor  Principal     `json:"editor"`
	At      time.Time     `json:"at"`
	Summary string        `json:"summary"`
	Level   Level         `json:"level"`
	Before  ScoreSnapshot `json:"before"`
	After   ScoreSnapshot `json:"after"`
	Changes []FieldChange `json:"changes,omitempty"`
}

// Document is the evaluation document aggregate.
type Document struct {
	ID       string   `json:"id"`
	FormType FormType `json:"formType"`

	Status               Status         `json:"status"`
	ApprovalStatus       ApprovalStatus `json:"approvalStatus"`
	Level0Status         Level0Status   `json:"level0ApprovalStatus"`
	CurrentApprovalLevel *Level         `json:"currentApprovalLevel"`

	Level0Approvers []Level0Approver `json:"level0Approvers,omitempty"`
	ApprovalLevels  []LevelEntry     `json:"approvalLevels,omitempty"`
	EditHistory     []EditRecord     `json:"editHistory,omitempty"`

	EmployeeID   string `json:"employee"`
	EvaluatorID  string `json:"evaluator"`
	ProjectID    string `json:"project,omitempty"`
	DepartmentID string `json:"department,omitempty"`
	AccessToken  string `json:"-"`

	Content    Content `json:"content"`
	TotalScore int     `json:"totalScore"`
	Percentage float64 `json:"percentage"`

	EmailSent   bool       `json:"emailSent"`
	EmailSentAt *time.Time `json:"emailSentAt,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Version int64 `json:"version"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.CurrentApprovalLevel = cloneLevel(d.CurrentApprovalLevel)
	if d.Level0Approvers != nil {
		out.Level0Approvers = make([]Level0Approver, len(d.Level0Approvers))
		for i, a := range d.Level0Approvers {
			a.ApprovedAt = cloneTime(a.ApprovedAt)
			a.RejectedAt = cloneTime(a.RejectedAt)
			out.Level0Approvers[i] = a
		}
	}
	if d.ApprovalLevels != nil {
		out.ApprovalLevels = make([]LevelEntry, len(d.ApprovalLevels))
		for i, e := range d.ApprovalLevels {
			e.ApprovedAt = cloneTime(e.ApprovedAt)
			e.RejectedAt = cloneTime(e.RejectedAt)
			e.ReopenedAt = cloneTime(e.ReopenedAt)
			out.ApprovalLevels[i] = e
		}
	}
	if d.EditHistory != nil {
		out.EditHistory = make([]EditRecord, len(d.EditHistory))
		for i, r := range d.EditHistory {
			r.Before = r.Before.clone()
			r.After = r.After.clone()
			r.Changes = append([]FieldChange(nil), r.Changes...)
			out.EditHistory[i] = r
		}
	}
	out.Content = d.Content.Clone()
	out.EmailSentAt = cloneTime(d.EmailSentAt)
	out.SentAt = cloneTime(d.SentAt)
	out.SubmittedAt = cloneTime(d.SubmittedAt)
	out.CompletedAt = cloneTime(d.CompletedAt)
	return out
}

// Entry returns the approval level entry for l.
func (d *Document) Entry(l Level) (*LevelEntry, bool) {
	for i := range d.ApprovalLevels {
		if d.ApprovalLevels[i].Level == l {
			return &d.ApprovalLevels[i], true
		}
	}
	return nil, false
}

// Level0Entry returns the level-0 slot of the principal.
func (d *Document) Level0Entry(principalID string) (*Level0Approver, bool) {
	for i := range d.Level0Approvers {
		if d.Level0Approvers[i].Principal.ID == principalID {
			return &d.Level0Approvers[i], true
		}
	}
	return nil, false
}

// RejectedLevel reports the tier that rejected the document.
func (d Document) RejectedLevel() (Level, bool) {
	if d.Level0Status == Level0Rejected {
		return Level0, true
	}
	for _, e := range d.ApprovalLevels {
		if e.Status == EntryRejected {
			return e.Level, true
		}
	}
	return 0, false
}

// Submitted reports whether the evaluator has handed d in: submitted,
// completed or rejected. Token links stop working from then on.
func (d Document) Submitted() bool {
	return isSubmitted(d.Status)
}

// AwaitingApproval reports whether some tier still has to act on d.
func (d Document) AwaitingApproval() bool {
	return d.Status == StatusSubmitted
}

// EffectiveLevel folds level-0 special cases for batch grouping.
// A document without a current level counts as level 1.
func (d Document) EffectiveLevel() Level {
	if d.CurrentApprovalLevel != nil && *d.CurrentApprovalLevel == Level0 {
		return Level0
	}
	if d.Level0Status == Level0Pending && d.Status == StatusSubmitted {
		return Level0
	}
	if d.CurrentApprovalLevel != nil {
		return *d.CurrentApprovalLevel
	}
	return Level1
}

func levelPtr(l Level) *Level { return &l }

func cloneLevel(l *Level) *Level {
	if l == nil {
		return nil
	}
	v := *l
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Filter narrows document listings; zero fields match everything.
type Filter struct {
	Status   Status
	FormType FormType
}

func (f Filter) Match(d Document) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.FormType != "" && d.FormType != f.FormType {
		return false
	}
	return true
}
