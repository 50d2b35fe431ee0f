package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/obs"
)

// BulkRequest is the body of a batched approval.
type BulkRequest struct {
	DocumentIDs []string `json:"documentIds"`
	ExcludeIDs  []string `json:"excludeDocumentIds"`
	Comments    string   `json:"comments"`
}

type BulkSuccess struct {
	DocumentID           string                  `json:"documentId"`
	Level                approval.Level          `json:"level"`
	ApprovalStatus       approval.ApprovalStatus `json:"approvalStatus"`
	CurrentApprovalLevel *approval.Level         `json:"currentApprovalLevel"`
}

type BulkFailure struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
	Kind       string `json:"kind"`
}

type BulkResult struct {
	Successful    []BulkSuccess  `json:"successful"`
	Failed        []BulkFailure  `json:"failed"`
	Excluded      []string       `json:"excluded"`
	ApprovedLevel approval.Level `json:"approvedLevel"`
}

// BulkApprove approves every candidate at one shared level. A mixed batch is
// refused before anything is written; afterwards each document succeeds or
// fails on its own.
func (o *Orchestrator) BulkApprove(ctx context.Context, req BulkRequest, actor approval.Actor) (BulkResult, error) {
	excluded := make(map[string]bool, len(req.ExcludeIDs))
	for _, id := range req.ExcludeIDs {
		excluded[id] = true
	}
	var candidates []string
	seen := map[string]bool{}
	for _, id := range req.DocumentIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] || excluded[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return BulkResult{}, fmt.Errorf("%w: no documents to approve", approval.ErrValidation)
	}
	obs.ObserveBulk(len(candidates))

	// Finished and not-yet-submitted documents take no part in the level
	// check; approve rejects them one by one below.
	byLevel := map[approval.Level][]string{}
	for _, id := range candidates {
		doc, err := o.store.Get(ctx, id)
		if err != nil {
			return BulkResult{}, fmt.Errorf("document %s: %w", id, err)
		}
		if !doc.AwaitingApproval() {
			continue
		}
		lvl := doc.EffectiveLevel()
		byLevel[lvl] = append(byLevel[lvl], id)
	}
	if len(byLevel) > 1 {
		levels := make([]int, 0, len(byLevel))
		for l := range byLevel {
			levels = append(levels, int(l))
		}
		sort.Ints(levels)
		return BulkResult{}, fmt.Errorf("%w: documents are at different approval levels %v; approve one level at a time", approval.ErrInvalidState, levels)
	}
	level := approval.Level1
	for l := range byLevel {
		level = l
	}

	res := BulkResult{
		Successful:    []BulkSuccess{},
		Failed:        []BulkFailure{},
		Excluded:      append([]string{}, req.ExcludeIDs...),
		ApprovedLevel: level,
	}
	var (
		mu      sync.Mutex
		outcome = make(map[string]any, len(candidates))
	)
	var g errgroup.Group
	g.SetLimit(o.bulkLimit)
	for _, id := range candidates {
		g.Go(func() error {
			doc, err := o.approve(ctx, id, actor, req.Comments, &level)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome[id] = BulkFailure{DocumentID: id, Error: err.Error(), Kind: approval.Kind(err)}
				return nil
			}
			outcome[id] = BulkSuccess{
				DocumentID:           id,
				Level:                level,
				ApprovalStatus:       doc.ApprovalStatus,
				CurrentApprovalLevel: doc.CurrentApprovalLevel,
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range candidates {
		switch v := outcome[id].(type) {
		case BulkSuccess:
			res.Successful = append(res.Successful, v)
		case BulkFailure:
			res.Failed = append(res.Failed, v)
		}
	}
	return res, nil
}
