package workflow

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/audit"
	"tovus.net/evalflow/internal/ids"
	"tovus.net/evalflow/internal/masterdata"
	"tovus.net/evalflow/internal/notify"
	"tovus.net/evalflow/internal/obs"
	"tovus.net/evalflow/internal/tracking"
)

// Store persists documents. Commit must fail with approval.ErrConflict when the
// stored version differs from expected.
type Store interface {
	Create(ctx context.Context, d approval.Document) (approval.Document, error)
	Get(ctx context.Context, id string) (approval.Document, error)
	List(ctx context.Context, f approval.Filter) ([]approval.Document, error)
	Commit(ctx context.Context, d approval.Document, expected int64) (approval.Document, error)
	Delete(ctx context.Context, id string) error
}

// LevelAuthority is the configuration source of truth for levels 1..4.
type LevelAuthority interface {
	IsUserAssigned(ctx context.Context, key approval.LevelKey, principalID string) (bool, error)
	Assignments(ctx context.Context, module approval.Module) ([]approval.LevelAssignment, error)
}

// Level0Authority resolves the dynamic first tier.
type Level0Authority interface {
	ResolveApprovers(ctx context.Context, projectID, departmentID string) ([]approval.Principal, error)
	HasAuthority(ctx context.Context, principalID, projectID, departmentID string) (bool, error)
}

// Publisher receives tracking events after commit.
type Publisher interface {
	Publish(evt tracking.Event)
}

// Orchestrator runs every document mutation as load, pure transition, versioned commit.
type Orchestrator struct {
	store     Store
	levels    LevelAuthority
	level0    Level0Authority
	directory masterdata.Directory
	tracker   Publisher
	notifier  notify.Notifier

	module    approval.Module
	baseURL   string
	bulkLimit int
	now       func() time.Time
	locks     *keyedMutex
}

type Option func(*Orchestrator)

func WithTracker(p Publisher) Option { return func(o *Orchestrator) { o.tracker = p } }

func WithNotifier(n notify.Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

func WithModule(m approval.Module) Option { return func(o *Orchestrator) { o.module = m } }

// WithBaseURL sets the prefix of access links sent to evaluators.
func WithBaseURL(u string) Option { return func(o *Orchestrator) { o.baseURL = u } }

// WithBulkConcurrency bounds parallel approvals in a batch.
func WithBulkConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.bulkLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func New(store Store, levels LevelAuthority, level0 Level0Authority, dir masterdata.Directory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		levels:    levels,
		level0:    level0,
		directory: dir,
		notifier:  notify.LogNotifier{},
		module:    approval.ModuleEvaluationAppraisal,
		bulkLimit: 8,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Module returns the workflow module whose levels this orchestrator reads.
func (o *Orchestrator) Module() approval.Module { return o.module }

// CreateInput is the body of a manual document creation.
type CreateInput struct {
	EmployeeID   string            `json:"employee"`
	EvaluatorID  string            `json:"evaluator"`
	FormType     approval.FormType `json:"formType"`
	ProjectID    string            `json:"project,omitempty"`
	DepartmentID string            `json:"department,omitempty"`
}

func (o *Orchestrator) Create(ctx context.Context, in CreateInput, actor approval.Actor) (approval.Document, error) {
	doc, err := approval.NewDocument(approval.NewDocumentInput{
		ID:           ids.New(),
		EmployeeID:   in.EmployeeID,
		EvaluatorID:  in.EvaluatorID,
		FormType:     in.FormType,
		ProjectID:    in.ProjectID,
		DepartmentID: in.DepartmentID,
		At:           o.now(),
	})
	if err != nil {
		return approval.Document{}, err
	}
	saved, err := o.store.Create(ctx, doc)
	if err != nil {
		return approval.Document{}, fmt.Errorf("create document: %w", err)
	}
	o.publish(ctx, approval.Change{Action: approval.ActionCreated, Actor: actor.Ref(), Document: saved})
	return saved, nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (approval.Document, error) {
	return o.store.Get(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, f approval.Filter) ([]approval.Document, error) {
	return o.store.List(ctx, f)
}

// GetWithToken authorizes public access to a single document.
// Token access ends once the document is submitted.
func (o *Orchestrator) GetWithToken(ctx context.Context, id, token string) (approval.Document, error) {
	doc, err := o.store.Get(ctx, id)
	if err != nil {
		return approval.Document{}, err
	}
	if !tokenMatches(doc, token) {
		return approval.Document{}, fmt.Errorf("%w: invalid access token", approval.ErrUnauthorized)
	}
	switch {
	case doc.Submitted():
		return approval.Document{}, approval.ErrAlreadySubmitted
	case doc.Status == approval.StatusArchived:
		return approval.Document{}, fmt.Errorf("%w: document is archived", approval.ErrInvalidState)
	}
	return doc, nil
}

// UpdateInput is a content save or submission. Token is empty for authenticated callers.
type UpdateInput struct {
	Token  string
	Actor  approval.Actor
	Patch  json.RawMessage
	Submit bool
}

func (o *Orchestrator) Update(ctx context.Context, id string, in UpdateInput) (approval.Document, error) {
	return o.mutate(ctx, id, "update", func(doc approval.Document) (approval.Change, error) {
		if in.Token != "" && !tokenMatches(doc, in.Token) {
			return approval.Change{}, fmt.Errorf("%w: invalid access token", approval.ErrUnauthorized)
		}
		if !in.Submit {
			return approval.UpdateContent(doc, approval.UpdateInput{Actor: in.Actor, Patch: in.Patch, At: o.now()})
		}
		return o.submit(ctx, doc, in.Actor, in.Patch)
	})
}

func (o *Orchestrator) submit(ctx context.Context, doc approval.Document, actor approval.Actor, patch json.RawMessage) (approval.Change, error) {
	in := approval.SubmitInput{Actor: actor, Patch: patch, At: o.now()}
	if len(doc.ApprovalLevels) == 0 {
		project, department, err := masterdata.Scope(ctx, o.directory, doc)
		if err != nil {
			return approval.Change{}, internal(err)
		}
		approvers, err := o.level0.ResolveApprovers(ctx, project, department)
		if err != nil {
			return approval.Change{}, internal(err)
		}
		in.Level0Approvers = approvers
		if len(approvers) == 0 {
			if in.Levels, err = o.levels.Assignments(ctx, o.module); err != nil {
				return approval.Change{}, internal(err)
			}
		}
	}
	return approval.Submit(doc, in)
}

// Approve acts at whatever level is current.
func (o *Orchestrator) Approve(ctx context.Context, id string, actor approval.Actor, comments string) (approval.Document, error) {
	return o.approve(ctx, id, actor, comments, nil)
}

// ApproveAt acts only if the document is still at level.
func (o *Orchestrator) ApproveAt(ctx context.Context, id string, level approval.Level, actor approval.Actor, comments string) (approval.Document, error) {
	return o.approve(ctx, id, actor, comments, &level)
}

func (o *Orchestrator) approve(ctx context.Context, id string, actor approval.Actor, comments string, want *approval.Level) (approval.Document, error) {
	return o.mutate(ctx, id, "approve", func(doc approval.Document) (approval.Change, error) {
		if err := expectLevel(doc, want); err != nil {
			return approval.Change{}, err
		}
		live, err := o.liveAuthority(ctx, doc, actor)
		if err != nil {
			return approval.Change{}, err
		}
		in := approval.ApproveInput{Actor: actor, Comments: comments, Live: live, At: o.now()}
		if cur := doc.CurrentApprovalLevel; cur != nil && *cur == approval.Level0 && len(doc.ApprovalLevels) == 0 {
			if in.Levels, err = o.levels.Assignments(ctx, o.module); err != nil {
				return approval.Change{}, internal(err)
			}
		}
		return approval.Approve(doc, in)
	})
}

func (o *Orchestrator) Reject(ctx context.Context, id string, actor approval.Actor, comments string) (approval.Document, error) {
	return o.reject(ctx, id, actor, comments, nil)
}

func (o *Orchestrator) RejectAt(ctx context.Context, id string, level approval.Level, actor approval.Actor, comments string) (approval.Document, error) {
	return o.reject(ctx, id, actor, comments, &level)
}

func (o *Orchestrator) reject(ctx context.Context, id string, actor approval.Actor, comments string, want *approval.Level) (approval.Document, error) {
	return o.mutate(ctx, id, "reject", func(doc approval.Document) (approval.Change, error) {
		if err := expectLevel(doc, want); err != nil {
			return approval.Change{}, err
		}
		live, err := o.liveAuthority(ctx, doc, actor)
		if err != nil {
			return approval.Change{}, err
		}
		return approval.Reject(doc, approval.RejectInput{Actor: actor, Comments: comments, Live: live, At: o.now()})
	})
}

// EditInput is an approver's content edit at a level.
type EditInput struct {
	Level    approval.Level
	Actor    approval.Actor
	Patch    json.RawMessage
	Summary  string
	Resubmit bool
}

func (o *Orchestrator) Edit(ctx context.Context, id string, in EditInput) (approval.Document, error) {
	op := "edit"
	if in.Resubmit {
		op = "resubmit"
	}
	return o.mutate(ctx, id, op, func(doc approval.Document) (approval.Change, error) {
		live, err := o.authorizedAt(ctx, doc, in.Level, in.Actor)
		if err != nil {
			return approval.Change{}, err
		}
		return approval.Edit(doc, approval.EditInput{
			Actor:    in.Actor,
			Level:    in.Level,
			Patch:    in.Patch,
			Summary:  in.Summary,
			Live:     live,
			Resubmit: in.Resubmit,
			At:       o.now(),
		})
	})
}

// SetStatus is the administrative status change. submitted runs the submission transition.
func (o *Orchestrator) SetStatus(ctx context.Context, id string, status approval.Status, actor approval.Actor) (approval.Document, error) {
	return o.mutate(ctx, id, "status", func(doc approval.Document) (approval.Change, error) {
		if status == approval.StatusSubmitted {
			return o.submit(ctx, doc, actor, nil)
		}
		return approval.SetStatus(doc, approval.StatusInput{Actor: actor, Status: status, At: o.now()})
	})
}

func (o *Orchestrator) Delete(ctx context.Context, id string, actor approval.Actor) error {
	unlock := o.locks.Lock(id)
	defer unlock()
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "documents.delete", map[string]any{"document_id": id, "actor": actor.PrincipalID})
	return nil
}

// mutate holds the document lock across load, transition and commit.
func (o *Orchestrator) mutate(ctx context.Context, id, op string, fn func(approval.Document) (approval.Change, error)) (approval.Document, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	doc, err := o.store.Get(ctx, id)
	if err != nil {
		return approval.Document{}, err
	}
	ch, err := fn(doc)
	level := -1
	if doc.CurrentApprovalLevel != nil {
		level = int(*doc.CurrentApprovalLevel)
	}
	if err != nil {
		obs.ObserveTransition(op, level, err)
		return approval.Document{}, err
	}
	saved, err := o.store.Commit(ctx, ch.Document, doc.Version)
	obs.ObserveTransition(op, level, err)
	if err != nil {
		if errors.Is(err, approval.ErrConflict) || errors.Is(err, approval.ErrNotFound) {
			return approval.Document{}, err
		}
		return approval.Document{}, internal(err)
	}
	ch.Document = saved
	o.publish(ctx, ch)
	return saved, nil
}

// publish mirrors a committed change; it never fails the caller.
func (o *Orchestrator) publish(ctx context.Context, ch approval.Change) {
	fields := map[string]any{
		"document_id": ch.Document.ID,
		"action":      string(ch.Action),
		"status":      string(ch.Document.Status),
		"version":     ch.Document.Version,
	}
	if ch.Level != nil {
		fields["level"] = int(*ch.Level)
	}
	_ = audit.LogEvent(ctx, "documents."+string(ch.Action), fields)
	if o.tracker != nil {
		o.tracker.Publish(tracking.FromChange(ch))
	}
}

// liveAuthority is the source-of-truth check for the document's current level.
func (o *Orchestrator) liveAuthority(ctx context.Context, doc approval.Document, actor approval.Actor) (bool, error) {
	if doc.Status != approval.StatusSubmitted || doc.CurrentApprovalLevel == nil {
		return false, nil
	}
	return o.authorizedAt(ctx, doc, *doc.CurrentApprovalLevel, actor)
}

func (o *Orchestrator) authorizedAt(ctx context.Context, doc approval.Document, level approval.Level, actor approval.Actor) (bool, error) {
	if actor.PrincipalID == "" {
		return false, nil
	}
	if level == approval.Level0 {
		project, department, err := masterdata.Scope(ctx, o.directory, doc)
		if err != nil {
			return false, internal(err)
		}
		ok, err := o.level0.HasAuthority(ctx, actor.PrincipalID, project, department)
		if err != nil {
			return false, internal(err)
		}
		return ok, nil
	}
	ok, err := o.levels.IsUserAssigned(ctx, approval.LevelKey{Module: o.module, Level: level}, actor.PrincipalID)
	if err != nil {
		return false, internal(err)
	}
	return ok, nil
}

func expectLevel(doc approval.Document, want *approval.Level) error {
	if want == nil {
		return nil
	}
	if doc.Status != approval.StatusSubmitted {
		return fmt.Errorf("%w: document status is %s, expected submitted", approval.ErrInvalidState, doc.Status)
	}
	if doc.CurrentApprovalLevel == nil || *doc.CurrentApprovalLevel != *want {
		cur := "none"
		if doc.CurrentApprovalLevel != nil {
			cur = doc.CurrentApprovalLevel.String()
		}
		return fmt.Errorf("%w: document is at level %s, not %d", approval.ErrInvalidState, cur, *want)
	}
	return nil
}

func tokenMatches(doc approval.Document, token string) bool {
	return doc.AccessToken != "" && subtle.ConstantTimeCompare([]byte(doc.AccessToken), []byte(token)) == 1
}

func internal(err error) error {
	return fmt.Errorf("%w: %v", approval.ErrInternal, err)
}
