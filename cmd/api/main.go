package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/config"
	"tovus.net/evalflow/internal/httpapi"
	"tovus.net/evalflow/internal/level0"
	"tovus.net/evalflow/internal/levelconfig"
	"tovus.net/evalflow/internal/masterdata"
	"tovus.net/evalflow/internal/obs"
	"tovus.net/evalflow/internal/store/memory"
	"tovus.net/evalflow/internal/store/pg"
	"tovus.net/evalflow/internal/stream"
	"tovus.net/evalflow/internal/tracking"
	"tovus.net/evalflow/internal/workflow"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	// Инициализация observability (регистрация метрик, build info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dir, err := loadDirectory(cfg.Workflow.MasterdataFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Workflow.MasterdataFile).Msg("load master data")
	}

	var (
		docs     workflow.Store
		levelsDB levelconfig.Repository
		level0DB level0.Repository
		ledger   tracking.Ledger
		users    auth.Directory
		ready    httpapi.ReadyProbe
		store    *pg.Store
	)
	if cfg.Database.DSN != "" {
		store, err = pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		docs, levelsDB, level0DB = store, store, store
		ledger, users = store.Tracking(), store.Users()
		ready = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Warn().Msg("EVALFLOW_PG_DSN not set, state is kept in memory")
		docs = memory.NewDocuments()
		levelsDB = levelconfig.NewMemory()
		level0DB = level0.NewMemory()
		ledger = tracking.NewMemory()
		users = auth.NewMemoryDirectory()
	}

	events := stream.New[tracking.Event](64)
	dispatcher := tracking.NewDispatcher(ledger,
		tracking.WithStream(events),
		tracking.WithQueue(cfg.Workflow.TrackingQueue),
	)

	levels := levelconfig.NewRegistry(levelsDB)
	resolver := level0.NewResolver(level0DB)
	wf := workflow.New(docs, levels, resolver, dir,
		workflow.WithTracker(dispatcher),
		workflow.WithModule(approval.Module(cfg.Workflow.Module)),
		workflow.WithBaseURL(cfg.Workflow.PublicBaseURL),
		workflow.WithBulkConcurrency(cfg.Workflow.BulkConcurrency),
	)

	api := httpapi.New(httpapi.Deps{
		Workflow: wf,
		Levels:   levels,
		Level0:   resolver,
		Tracking: ledger,
		Events:   events,
		Auth:     auth.NewService(users),
		Ready:    ready,
	},
		httpapi.WithVersion(version),
		httpapi.WithDevTokens(cfg.HTTP.DevTokens),
		httpapi.WithRateLimit(cfg.HTTP.RatePerSec, cfg.HTTP.RateBurst),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE streams stay open, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCServer(ready, version).Register(grpcSrv)
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPC.Addr).Msg("grpc listen")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("module", cfg.Workflow.Module).Msg("starting evalflow-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPC.Addr).Msg("starting grpc health")
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error().Err(err).Msg("grpc serve")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// SSE-хэндлеры держат соединения, пока не закрыт stream
	events.Close()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()

	// после HTTP: в очереди могут остаться события
	dispatcher.Close()
	if store != nil {
		_ = store.Close()
	}
	log.Info().Msg("stopped")
}

func loadDirectory(path string) (*masterdata.Memory, error) {
	if path == "" {
		return masterdata.NewMemory(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return masterdata.LoadYAML(f)
}
