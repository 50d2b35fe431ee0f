package approval

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action names a committed transition; it is mirrored into tracking.
type Action string

const (
	ActionCreated        Action = "created"
	ActionSent           Action = "sent"
	ActionContentUpdated Action = "content_updated"
	ActionSubmitted      Action = "submitted"
	ActionApproved       Action = "approved"
	ActionMovedToNext    Action = "moved_to_next_level"
	ActionCompleted      Action = "completed"
	ActionRejected       Action = "rejected"
	ActionEdited         Action = "edited"
	ActionResubmitted    Action = "resubmitted"
	ActionStatusChanged  Action = "status_changed"
)

// Change is the result of a transition. Document is the full next state and
// is written in one commit guarded by Before.Version.
type Change struct {
	Action   Action
	Level    *Level
	Actor    Principal
	Comments string
	Before   Document
	Document Document
}

func newChange(action Action, before, after Document, actor Principal) Change {
	return Change{Action: action, Actor: actor, Before: before, Document: after}
}

// NewDocumentInput carries the fields required to create a document.
type NewDocumentInput struct {
	ID           string
	EmployeeID   string
	EvaluatorID  string
	FormType     FormType
	ProjectID    string
	DepartmentID string
	Content      Content
	At           time.Time
}

// NewDocument builds a draft document.
func NewDocument(in NewDocumentInput) (Document, error) {
	var missing []string
	if strings.TrimSpace(in.EmployeeID) == "" {
		missing = append(missing, "employee")
	}
	if strings.TrimSpace(in.EvaluatorID) == "" {
		missing = append(missing, "evaluator")
	}
	if in.FormType == "" {
		missing = append(missing, "formType")
	}
	if len(missing) > 0 {
		return Document{}, fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, ", "))
	}
	if !in.FormType.Valid() {
		return Document{}, fmt.Errorf("%w: unknown formType %q", ErrValidation, in.FormType)
	}
	d := Document{
		ID:           in.ID,
		FormType:     in.FormType,
		Status:       StatusDraft,
		Level0Status: Level0NotRequired,
		EmployeeID:   in.EmployeeID,
		EvaluatorID:  in.EvaluatorID,
		ProjectID:    in.ProjectID,
		DepartmentID: in.DepartmentID,
		Content:      in.Content.Clone(),
		CreatedAt:    in.At,
	}
	d.TotalScore, d.Percentage = ComputeScore(d.FormType, d.Content)
	Normalize(&d, in.At)
	return d, nil
}

func isSubmitted(s Status) bool {
	return s == StatusSubmitted || s == StatusCompleted || s == StatusRejected
}

// SendInput stamps the sent transition.
type SendInput struct {
	Token   string
	Emailed bool
	At      time.Time
}

// MarkSent issues the access token and moves a draft to sent.
// An already assigned token is kept.
func MarkSent(doc Document, in SendInput) (Change, error) {
	if doc.Status != StatusDraft && doc.Status != StatusSent {
		return Change{}, fmt.Errorf("%w: cannot send document in status %s", ErrInvalidState, doc.Status)
	}
	next := doc.Clone()
	if next.AccessToken == "" {
		if in.Token == "" {
			return Change{}, fmt.Errorf("%w: access token required", ErrValidation)
		}
		next.AccessToken = in.Token
	}
	next.Status = StatusSent
	at := in.At
	next.SentAt = &at
	if in.Emailed {
		next.EmailSent = true
		next.EmailSentAt = &at
	}
	Normalize(&next, in.At)
	return newChange(ActionSent, doc, next, Principal{}), nil
}

// UpdateInput is a content save before submission.
type UpdateInput struct {
	Actor Actor
	Patch json.RawMessage
	At    time.Time
}

// UpdateContent saves content without submitting. A sent document moves to in_progress.
func UpdateContent(doc Document, in UpdateInput) (Change, error) {
	if isSubmitted(doc.Status) {
		return Change{}, ErrAlreadySubmitted
	}
	if doc.Status == StatusArchived {
		return Change{}, fmt.Errorf("%w: document is archived", ErrInvalidState)
	}
	content, err := ApplyContent(doc.Content, in.Patch)
	if err != nil {
		return Change{}, err
	}
	next := doc.Clone()
	next.Content = content
	next.TotalScore, next.Percentage = ComputeScore(next.FormType, next.Content)
	if next.Status == StatusSent {
		next.Status = StatusInProgress
	}
	Normalize(&next, in.At)
	return newChange(ActionContentUpdated, doc, next, in.Actor.Ref()), nil
}

// SubmitInput carries the resolved approval chain for the submission transition.
type SubmitInput struct {
	Actor           Actor
	Patch           json.RawMessage
	Level0Approvers []Principal
	Levels          []LevelAssignment
	At              time.Time
}

// Submit initializes approval state. With level-0 approvers the configured
// levels are deferred until level 0 clears.
func Submit(doc Document, in SubmitInput) (Change, error) {
	if isSubmitted(doc.Status) {
		return Change{}, ErrAlreadySubmitted
	}
	if doc.Status == StatusArchived {
		return Change{}, fmt.Errorf("%w: document is archived", ErrInvalidState)
	}
	content, err := ApplyContent(doc.Content, in.Patch)
	if err != nil {
		return Change{}, err
	}
	next := doc.Clone()
	next.Content = content
	next.TotalScore, next.Percentage = ComputeScore(next.FormType, next.Content)
	next.Status = StatusSubmitted
	at := in.At
	next.SubmittedAt = &at
	next.CompletedAt = nil

	if len(next.ApprovalLevels) == 0 {
		next.Level0Approvers = nil
		if approvers := dedupePrincipals(in.Level0Approvers); len(approvers) > 0 {
			next.Level0Status = Level0Pending
			for _, p := range approvers {
				next.Level0Approvers = append(next.Level0Approvers, Level0Approver{Principal: p, Status: EntryPending})
			}
		} else {
			next.Level0Status = Level0NotRequired
			next.ApprovalLevels = buildEntries(in.Levels)
		}
	}
	Normalize(&next, in.At)
	return newChange(ActionSubmitted, doc, next, in.Actor.Ref()), nil
}

// ApproveInput is an approval at the current level. Live reports the
// source-of-truth check for the actor at that level, evaluated by the caller.
type ApproveInput struct {
	Actor    Actor
	Comments string
	Live     bool
	Levels   []LevelAssignment
	At       time.Time
}

// Approve records the actor's approval at the current level.
func Approve(doc Document, in ApproveInput) (Change, error) {
	level, err := actionableLevel(doc)
	if err != nil {
		return Change{}, err
	}
	next := doc.Clone()
	at := in.At

	if level == Level0 {
		slot, err := level0Slot(&next, in.Actor, in.Live)
		if err != nil {
			return Change{}, err
		}
		slot.Status = EntryApproved
		slot.ApprovedAt = &at
		slot.RejectedAt = nil
		slot.Comments = in.Comments
		if DeriveLevel0Status(Level0Tier{Status: next.Level0Status, Approvers: next.Level0Approvers}) == Level0Approved && len(next.ApprovalLevels) == 0 {
			next.ApprovalLevels = buildEntries(in.Levels)
		}
	} else {
		entry, err := levelSlot(&next, level, in.Actor, in.Live)
		if err != nil {
			return Change{}, err
		}
		entry.Status = EntryApproved
		entry.ApprovedAt = &at
		entry.RejectedAt = nil
		entry.ActedBy = in.Actor.PrincipalID
		entry.Comments = in.Comments
	}
	Normalize(&next, in.At)

	action := ActionApproved
	switch {
	case next.Status == StatusCompleted:
		action = ActionCompleted
	case next.CurrentApprovalLevel != nil && *next.CurrentApprovalLevel != level:
		action = ActionMovedToNext
	}
	ch := newChange(action, doc, next, in.Actor.Ref())
	ch.Level = levelPtr(level)
	ch.Comments = in.Comments
	return ch, nil
}

// RejectInput is a rejection at the current level.
type RejectInput struct {
	Actor    Actor
	Comments string
	Live     bool
	At       time.Time
}

// Reject marks the current entry rejected. Forward progress stops until an
// edit+resubmit at the same level.
func Reject(doc Document, in RejectInput) (Change, error) {
	level, err := actionableLevel(doc)
	if err != nil {
		return Change{}, err
	}
	next := doc.Clone()
	at := in.At

	if level == Level0 {
		slot, err := level0Slot(&next, in.Actor, in.Live)
		if err != nil {
			return Change{}, err
		}
		slot.Status = EntryRejected
		slot.RejectedAt = &at
		slot.ApprovedAt = nil
		slot.Comments = in.Comments
	} else {
		entry, err := levelSlot(&next, level, in.Actor, in.Live)
		if err != nil {
			return Change{}, err
		}
		entry.Status = EntryRejected
		entry.RejectedAt = &at
		entry.ApprovedAt = nil
		entry.ActedBy = in.Actor.PrincipalID
		entry.Comments = in.Comments
	}
	Normalize(&next, in.At)

	ch := newChange(ActionRejected, doc, next, in.Actor.Ref())
	ch.Level = levelPtr(level)
	ch.Comments = in.Comments
	return ch, nil
}

// EditInput is a content edit by the approver holding level.
// With Resubmit the level is reopened for approval.
type EditInput struct {
	Actor    Actor
	Level    Level
	Patch    json.RawMessage
	Summary  string
	Live     bool
	Resubmit bool
	At       time.Time
}

// Edit applies content at level and records a scored-field diff.
// It is allowed while level is current or while the document is rejected at level.
func Edit(doc Document, in EditInput) (Change, error) {
	if !in.Level.Valid() {
		return Change{}, fmt.Errorf("%w: unknown approval level %d", ErrValidation, in.Level)
	}
	if doc.Status != StatusSubmitted && doc.Status != StatusRejected {
		return Change{}, fmt.Errorf("%w: cannot edit document in status %s", ErrInvalidState, doc.Status)
	}
	rejectedAt, rejected := doc.RejectedLevel()
	current := doc.CurrentApprovalLevel != nil && *doc.CurrentApprovalLevel == in.Level
	if !current && !(rejected && rejectedAt == in.Level) {
		return Change{}, fmt.Errorf("%w: document is at level %s, not %d", ErrInvalidState, describeLevel(doc), in.Level)
	}

	next := doc.Clone()
	if in.Level == Level0 {
		if _, ok := next.Level0Entry(in.Actor.PrincipalID); !ok || !in.Live {
			return Change{}, fmt.Errorf("%w: not a level 0 approver for this document", ErrUnauthorized)
		}
	} else {
		entry, ok := next.Entry(in.Level)
		if !ok {
			return Change{}, fmt.Errorf("%w: level %d is not configured on this document", ErrInvalidState, in.Level)
		}
		if entry.Assignee.ID != in.Actor.PrincipalID || !in.Live {
			return Change{}, fmt.Errorf("%w: not assigned to level %d", ErrUnauthorized, in.Level)
		}
	}

	content, err := ApplyContent(doc.Content, in.Patch)
	if err != nil {
		return Change{}, err
	}
	before := snapshotOf(doc)
	next.Content = content
	next.TotalScore, next.Percentage = ComputeScore(next.FormType, next.Content)
	after := snapshotOf(next)

	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		summary = fmt.Sprintf("Edited at level %d", in.Level)
		if in.Resubmit {
			summary = fmt.Sprintf("Edited and resubmitted at level %d", in.Level)
		}
	}
	next.EditHistory = append(next.EditHistory, EditRecord{
		Editor:  in.Actor.Ref(),
		At:      in.At,
		Summary: summary,
		Level:   in.Level,
		Before:  before,
		After:   after,
		Changes: DiffScores(before, after),
	})

	action := ActionEdited
	if in.Resubmit {
		action = ActionResubmitted
		at := in.At
		if in.Level == Level0 {
			// concurrence was given on the previous content
			for i := range next.Level0Approvers {
				a := &next.Level0Approvers[i]
				a.Status = EntryPending
				a.ApprovedAt = nil
				a.RejectedAt = nil
			}
			next.Level0Status = Level0Pending
		} else {
			entry, _ := next.Entry(in.Level)
			entry.Status = EntryPending
			entry.ApprovedAt = nil
			entry.RejectedAt = nil
			entry.ActedBy = ""
			entry.ReopenedAt = &at
		}
	}
	Normalize(&next, in.At)

	ch := newChange(action, doc, next, in.Actor.Ref())
	ch.Level = levelPtr(in.Level)
	ch.Comments = summary
	return ch, nil
}

// StatusInput is an administrative status change.
type StatusInput struct {
	Actor  Actor
	Status Status
	At     time.Time
}

// SetStatus moves a document between non-workflow states. Submission goes
// through Submit; completed and rejected are derived and cannot be set.
func SetStatus(doc Document, in StatusInput) (Change, error) {
	if !in.Status.Valid() {
		return Change{}, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}
	switch in.Status {
	case StatusSubmitted:
		return Change{}, fmt.Errorf("%w: use submit to move a document to submitted", ErrValidation)
	case StatusCompleted, StatusRejected:
		return Change{}, fmt.Errorf("%w: status %s is derived from approvals", ErrValidation, in.Status)
	case StatusArchived:
	default:
		if isSubmitted(doc.Status) || doc.Status == StatusArchived {
			return Change{}, fmt.Errorf("%w: cannot move document from %s to %s", ErrInvalidState, doc.Status, in.Status)
		}
	}
	if doc.Status == in.Status {
		return Change{}, fmt.Errorf("%w: document is already %s", ErrInvalidState, in.Status)
	}
	next := doc.Clone()
	next.Status = in.Status
	if in.Status == StatusSent && next.SentAt == nil {
		at := in.At
		next.SentAt = &at
	}
	Normalize(&next, in.At)
	return newChange(ActionStatusChanged, doc, next, in.Actor.Ref()), nil
}

// actionableLevel validates the preconditions shared by approve and reject.
func actionableLevel(doc Document) (Level, error) {
	if doc.Status != StatusSubmitted {
		return 0, fmt.Errorf("%w: document status is %s, expected submitted", ErrInvalidState, doc.Status)
	}
	if doc.ApprovalStatus == ApprovalApproved || doc.ApprovalStatus == ApprovalRejected {
		return 0, fmt.Errorf("%w: document is already %s", ErrInvalidState, doc.ApprovalStatus)
	}
	if doc.CurrentApprovalLevel == nil {
		return 0, fmt.Errorf("%w: no approval level is pending", ErrInvalidState)
	}
	return *doc.CurrentApprovalLevel, nil
}

func level0Slot(doc *Document, actor Actor, live bool) (*Level0Approver, error) {
	slot, ok := doc.Level0Entry(actor.PrincipalID)
	if !ok || !live {
		return nil, fmt.Errorf("%w: not a level 0 approver for this document", ErrUnauthorized)
	}
	if slot.Status != EntryPending {
		return nil, fmt.Errorf("%w: level 0 is not pending (status: %s)", ErrInvalidState, slot.Status)
	}
	return slot, nil
}

func levelSlot(doc *Document, level Level, actor Actor, live bool) (*LevelEntry, error) {
	entry, ok := doc.Entry(level)
	if !ok {
		return nil, fmt.Errorf("%w: level %d is not configured on this document", ErrInvalidState, level)
	}
	if entry.Assignee.ID != actor.PrincipalID || !live {
		return nil, fmt.Errorf("%w: not assigned to level %d", ErrUnauthorized, level)
	}
	if entry.Status != EntryPending {
		return nil, fmt.Errorf("%w: level %d is not pending (status: %s)", ErrInvalidState, level, entry.Status)
	}
	return entry, nil
}

func buildEntries(levels []LevelAssignment) []LevelEntry {
	seen := make(map[Level]bool, len(levels))
	var out []LevelEntry
	for _, a := range levels {
		if a.Level < Level1 || a.Level > Level4 || a.Assignee.ID == "" || seen[a.Level] {
			continue
		}
		seen[a.Level] = true
		out = append(out, LevelEntry{Level: a.Level, Title: a.Title, Assignee: a.Assignee, Status: EntryPending})
	}
	return out
}

func dedupePrincipals(in []Principal) []Principal {
	seen := make(map[string]bool, len(in))
	out := make([]Principal, 0, len(in))
	for _, p := range in {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

func describeLevel(doc Document) string {
	if doc.CurrentApprovalLevel == nil {
		return "none"
	}
	return doc.CurrentApprovalLevel.String()
}
