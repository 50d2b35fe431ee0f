package notify

import (
	"context"
	"errors"
	"strings"

	"tovus.net/evalflow/internal/obs"
)

var ErrNoAddress = errors.New("notify: recipient has no email address")

// Recipient is the evaluator receiving links.
type Recipient struct {
	ID    string
	Name  string
	Email string
}

// Link is one evaluation form the recipient is asked to fill.
type Link struct {
	DocumentID   string
	EmployeeID   string
	EmployeeName string
	FormType     string
	URL          string
}

// Notifier delivers one message per evaluator. Delivery is best-effort:
// callers record the failure on the documents and carry on.
type Notifier interface {
	NotifyEvaluator(ctx context.Context, to Recipient, links []Link) error
}

// LogNotifier writes the message to the structured log instead of sending mail.
type LogNotifier struct{}

func (LogNotifier) NotifyEvaluator(ctx context.Context, to Recipient, links []Link) error {
	if strings.TrimSpace(to.Email) == "" {
		return ErrNoAddress
	}
	docs := make([]string, 0, len(links))
	for _, l := range links {
		docs = append(docs, l.DocumentID)
	}
	obs.Logger().Info().
		Str("evaluator_id", to.ID).
		Str("email", to.Email).
		Strs("documents", docs).
		Int("links", len(links)).
		Msg("evaluation links sent")
	return nil
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, to Recipient, links []Link) error

func (f Func) NotifyEvaluator(ctx context.Context, to Recipient, links []Link) error {
	return f(ctx, to, links)
}
