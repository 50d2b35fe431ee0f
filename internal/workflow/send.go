package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/ids"
	"tovus.net/evalflow/internal/masterdata"
	"tovus.net/evalflow/internal/notify"
	"tovus.net/evalflow/internal/obs"
)

// SendRequest asks every evaluator to assess every employee.
type SendRequest struct {
	EmployeeIDs  []string `json:"employeeIds"`
	EvaluatorIDs []string `json:"evaluatorIds"`
}

type SendResult struct {
	EmployeeID     string `json:"employeeId"`
	EmployeeName   string `json:"employeeName,omitempty"`
	EvaluatorID    string `json:"evaluatorId"`
	EvaluatorName  string `json:"evaluatorName,omitempty"`
	EvaluatorEmail string `json:"evaluatorEmail,omitempty"`
	DocumentID     string `json:"documentId,omitempty"`
	EmailSent      bool   `json:"emailSent"`
	EmailError     string `json:"emailError,omitempty"`
}

type pendingLink struct {
	doc    approval.Document
	result int
	link   notify.Link
}

// Send creates one tokenised document per (employee, evaluator) and notifies
// each evaluator once with all of their links. Self-evaluations are marked
// sent without mail. Notification failures are reported, never returned.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest, actor approval.Actor) ([]SendResult, error) {
	if len(req.EmployeeIDs) == 0 {
		return nil, fmt.Errorf("%w: employeeIds required", approval.ErrValidation)
	}
	if len(req.EvaluatorIDs) == 0 {
		return nil, fmt.Errorf("%w: evaluatorIds required", approval.ErrValidation)
	}
	evaluators := make([]masterdata.Employee, 0, len(req.EvaluatorIDs))
	for _, id := range req.EvaluatorIDs {
		ev, err := o.directory.Employee(ctx, id)
		if err != nil {
			return nil, lookupErr("evaluator", id, err)
		}
		evaluators = append(evaluators, ev)
	}

	var results []SendResult
	byEvaluator := map[string][]pendingLink{}
	for _, empID := range req.EmployeeIDs {
		emp, err := o.directory.Employee(ctx, empID)
		if err != nil {
			return nil, lookupErr("employee", empID, err)
		}
		for _, ev := range evaluators {
			res := SendResult{
				EmployeeID:     emp.ID,
				EmployeeName:   emp.FullName(),
				EvaluatorID:    ev.ID,
				EvaluatorName:  ev.FullName(),
				EvaluatorEmail: ev.Email,
			}
			doc, err := o.createForSend(ctx, emp, ev, actor)
			if err != nil {
				res.EmailError = err.Error()
				results = append(results, res)
				continue
			}
			res.DocumentID = doc.ID
			if emp.ID == ev.ID {
				if _, err := o.markSent(ctx, doc.ID, false); err != nil {
					res.EmailError = err.Error()
				} else {
					res.EmailError = "self-evaluation not sent via email"
				}
				results = append(results, res)
				continue
			}
			results = append(results, res)
			byEvaluator[ev.ID] = append(byEvaluator[ev.ID], pendingLink{
				doc:    doc,
				result: len(results) - 1,
				link: notify.Link{
					DocumentID:   doc.ID,
					EmployeeID:   emp.ID,
					EmployeeName: emp.FullName(),
					FormType:     string(doc.FormType),
					URL:          o.accessLink(doc),
				},
			})
		}
	}

	evIDs := make([]string, 0, len(byEvaluator))
	for id := range byEvaluator {
		evIDs = append(evIDs, id)
	}
	sort.Strings(evIDs)
	for _, evID := range evIDs {
		pending := byEvaluator[evID]
		var ev masterdata.Employee
		for _, e := range evaluators {
			if e.ID == evID {
				ev = e
			}
		}
		links := make([]notify.Link, 0, len(pending))
		for _, p := range pending {
			links = append(links, p.link)
		}
		notifyErr := o.notifier.NotifyEvaluator(ctx, notify.Recipient{ID: ev.ID, Name: ev.FullName(), Email: ev.Email}, links)
		if notifyErr != nil {
			obs.Logger().Warn().Err(notifyErr).Str("evaluator_id", ev.ID).Msg("evaluation notification failed")
		}
		for _, p := range pending {
			if _, err := o.markSent(ctx, p.doc.ID, notifyErr == nil); err != nil {
				results[p.result].EmailError = err.Error()
				continue
			}
			results[p.result].EmailSent = notifyErr == nil
			if notifyErr != nil {
				results[p.result].EmailError = notifyErr.Error()
			}
		}
	}
	return results, nil
}

func (o *Orchestrator) createForSend(ctx context.Context, emp, ev masterdata.Employee, actor approval.Actor) (approval.Document, error) {
	doc, err := approval.NewDocument(approval.NewDocumentInput{
		ID:           ids.New(),
		EmployeeID:   emp.ID,
		EvaluatorID:  ev.ID,
		FormType:     emp.FormType(),
		DepartmentID: emp.DepartmentID,
		Content: approval.Content{
			Code:        emp.Code,
			Name:        emp.FullName(),
			Designation: emp.Designation,
		},
		At: o.now(),
	})
	if err != nil {
		return approval.Document{}, err
	}
	if doc.AccessToken, err = ids.AccessToken(); err != nil {
		return approval.Document{}, internal(err)
	}
	saved, err := o.store.Create(ctx, doc)
	if err != nil {
		return approval.Document{}, fmt.Errorf("create document: %w", err)
	}
	o.publish(ctx, approval.Change{Action: approval.ActionCreated, Actor: actor.Ref(), Document: saved})
	return saved, nil
}

func (o *Orchestrator) markSent(ctx context.Context, id string, emailed bool) (approval.Document, error) {
	return o.mutate(ctx, id, "send", func(doc approval.Document) (approval.Change, error) {
		return approval.MarkSent(doc, approval.SendInput{Emailed: emailed, At: o.now()})
	})
}

func (o *Orchestrator) accessLink(doc approval.Document) string {
	base := strings.TrimRight(o.baseURL, "/")
	return fmt.Sprintf("%s/hr/evaluation-appraisal/fill/%s?token=%s", base, url.PathEscape(doc.ID), url.QueryEscape(doc.AccessToken))
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, masterdata.ErrNotFound) {
		return fmt.Errorf("%w: %s %s not found", approval.ErrValidation, kind, id)
	}
	return internal(err)
}
