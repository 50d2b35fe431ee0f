package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/level0"
	"tovus.net/evalflow/internal/levelconfig"
	"tovus.net/evalflow/internal/obs"
	"tovus.net/evalflow/internal/stream"
	"tovus.net/evalflow/internal/tracking"
	"tovus.net/evalflow/internal/workflow"
)

const serviceName = "evalflow-api"

// ReadyProbe: простая проверка готовности (ping БД, если есть).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Workflow *workflow.Orchestrator
	Levels   *levelconfig.Registry
	Level0   *level0.Resolver
	Tracking tracking.Ledger
	Events   *stream.Stream[tracking.Event]
	Auth     *auth.Service
	Ready    readinessChecker
}

// API: HTTP слой.
type API struct {
	mux      *http.ServeMux
	workflow *workflow.Orchestrator
	levels   *levelconfig.Registry
	level0   *level0.Resolver
	tracking tracking.Ledger
	events   *stream.Stream[tracking.Event]
	auth     *auth.Service
	ready    readinessChecker

	version    string
	devTokens  bool
	rateBurst  int
	ratePerSec float64
	maxBody    int64
	origins    []string
}

type Option func(*API)

func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithDevTokens enables unauthenticated token issuance at /v1/auth/token.
func WithDevTokens(on bool) Option { return func(a *API) { a.devTokens = on } }

func WithRateLimit(perSec float64, burst int) Option {
	return func(a *API) {
		if perSec > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSec, burst
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func WithAllowedOrigins(origins []string) Option { return func(a *API) { a.origins = origins } }

func New(d Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		workflow:   d.Workflow,
		levels:     d.Levels,
		level0:     d.Level0,
		tracking:   d.Tracking,
		events:     d.Events,
		auth:       d.Auth,
		ready:      d.Ready,
		version:    "dev",
		rateBurst:  100,
		ratePerSec: 50,
		maxBody:    1 << 20,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/documents", a.handleDocumentsCollection)
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentResource)
	a.mux.HandleFunc("/v1/documents/bulk-approve", a.handleBulkApprove)
	a.mux.Handle("/v1/documents/send", RequireRole(auth.RoleHR, auth.RoleAdmin)(http.HandlerFunc(a.handleSend)))
	a.mux.HandleFunc("/v1/documents/dashboard/grouped", a.handleGrouped)
	a.mux.HandleFunc("/v1/documents/events", a.handleEvents)

	a.mux.HandleFunc("/v1/tracking", a.handleTrackingList)

	a.mux.HandleFunc("/v1/approval-levels", a.handleApprovalLevels)
	a.mux.HandleFunc("/v1/approval-levels/assigned", a.handleAssignedLevels)

	a.mux.HandleFunc("/v1/level0-authorities", a.handleAuthorities)
	a.mux.HandleFunc("/v1/level0-authorities/resolve", a.handleResolveAuthorities)
	a.mux.HandleFunc("/v1/level0-authorities/migrate", a.handleMigrateAuthorities)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler wraps the mux with the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"module":  string(a.workflow.Module()),
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
