// Command smoke drives documents through every approval tier of a running API.
// The API must run with EVALFLOW_DEV_TOKENS=true.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/levelconfig"
	"tovus.net/evalflow/internal/obs"
	"tovus.net/evalflow/internal/tracking"
)

type client struct {
	base string
	http *http.Client

	mu     sync.Mutex
	tokens map[string]string
}

func main() {
	var (
		baseURL   = flag.String("base-url", "http://localhost:8080", "API base URL")
		employee  = flag.String("employee", "", "employee id to evaluate")
		evaluator = flag.String("evaluator", "", "evaluator employee id")
		docs      = flag.Int("docs", 3, "documents to create")
		workers   = flag.Int("workers", 4, "concurrent requests")
	)
	flag.Parse()
	log := obs.Logger()
	if *employee == "" || *evaluator == "" {
		log.Fatal().Msg("-employee and -evaluator are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	c := &client{base: *baseURL, http: &http.Client{Timeout: 10 * time.Second}, tokens: map[string]string{}}

	var levels struct {
		Levels []levelconfig.Configuration `json:"levels"`
	}
	if err := c.call(ctx, "smoke-hr", http.MethodGet, "/v1/approval-levels", nil, &levels); err != nil {
		log.Fatal().Err(err).Msg("load approval levels")
	}

	ids := make([]string, *docs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for i := range ids {
		g.Go(func() error {
			var doc approval.Document
			if err := c.call(gctx, "smoke-hr", http.MethodPost, "/v1/documents", map[string]any{
				"employee": *employee, "evaluator": *evaluator, "formType": approval.FormWhiteCollar,
			}, &doc); err != nil {
				return fmt.Errorf("create: %w", err)
			}
			if err := c.call(gctx, *evaluator, http.MethodPut, "/v1/documents/"+doc.ID, map[string]any{
				"status": approval.StatusSubmitted, "overallResult": fmt.Sprintf("smoke run %d", i),
			}, &doc); err != nil {
				return fmt.Errorf("submit %s: %w", doc.ID, err)
			}
			if err := c.approveLevel0(gctx, doc); err != nil {
				return err
			}
			ids[i] = doc.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("create documents")
	}

	for _, lvl := range levels.Levels {
		var res struct {
			Successful []json.RawMessage `json:"successful"`
			Failed     []json.RawMessage `json:"failed"`
		}
		if err := c.call(ctx, lvl.Assignee.ID, http.MethodPost, "/v1/documents/bulk-approve", map[string]any{
			"documentIds": ids, "comments": "smoke",
		}, &res); err != nil {
			log.Fatal().Err(err).Int("level", int(lvl.Level)).Msg("bulk approve")
		}
		if len(res.Failed) > 0 {
			log.Fatal().Int("level", int(lvl.Level)).Int("failed", len(res.Failed)).Msg("bulk approve partially failed")
		}
		log.Info().Int("level", int(lvl.Level)).Int("approved", len(res.Successful)).Msg("level approved")
	}

	for _, id := range ids {
		var doc approval.Document
		if err := c.call(ctx, "smoke-hr", http.MethodGet, "/v1/documents/"+id, nil, &doc); err != nil {
			log.Fatal().Err(err).Str("document_id", id).Msg("reload")
		}
		if doc.Status != approval.StatusCompleted {
			log.Fatal().Str("document_id", id).Str("status", string(doc.Status)).Msg("document not completed")
		}
		if err := c.waitTracked(ctx, id); err != nil {
			log.Fatal().Err(err).Str("document_id", id).Msg("tracking")
		}
	}
	fmt.Printf("smoke test passed: %d documents through %d levels\n", len(ids), len(levels.Levels))
}

// approveLevel0 collects concurrence until the document leaves level 0.
func (c *client) approveLevel0(ctx context.Context, doc approval.Document) error {
	for _, a := range doc.Level0Approvers {
		if doc.CurrentApprovalLevel == nil || *doc.CurrentApprovalLevel != approval.Level0 {
			return nil
		}
		if err := c.call(ctx, a.Principal.ID, http.MethodPost, "/v1/documents/"+doc.ID+"/level0-approve",
			map[string]any{"comments": "smoke"}, &doc); err != nil {
			return fmt.Errorf("level 0 approve %s by %s: %w", doc.ID, a.Principal.ID, err)
		}
	}
	return nil
}

// waitTracked polls until the ledger catches up; tracking is written asynchronously.
func (c *client) waitTracked(ctx context.Context, id string) error {
	for attempt := 0; attempt < 20; attempt++ {
		var rec tracking.Record
		err := c.call(ctx, "smoke-hr", http.MethodGet, "/v1/documents/"+id+"/tracking", nil, &rec)
		if err == nil && rec.LedgerStatus == tracking.LedgerCompleted {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return errors.New("tracking record never reached Completed")
}

func (c *client) token(ctx context.Context, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.tokens[user]; ok {
		return tok, nil
	}
	roles := []string{"approver"}
	if user == "smoke-hr" {
		roles = []string{"hr"}
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "", http.MethodPost, "/v1/auth/token", map[string]any{"user": user, "name": user, "roles": roles}, &out); err != nil {
		return "", fmt.Errorf("issue token for %s: %w", user, err)
	}
	c.tokens[user] = out.Token
	return out.Token, nil
}

func (c *client) call(ctx context.Context, user, method, path string, body, out any) error {
	tok, err := c.token(ctx, user)
	if err != nil {
		return err
	}
	return c.do(ctx, tok, method, path, body, out)
}

func (c *client) do(ctx context.Context, token, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
