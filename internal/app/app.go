// Package app assembles the engine: configuration, logging, storage,
// the event bus, the domain services, and the diagnostics HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avdeenkov/recodehub/internal/adapter/natsbus"
	"github.com/avdeenkov/recodehub/internal/adapter/postgres"
	dictionaryrepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/dictionary"
	fieldrepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/field"
	grouprepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/group"
	historyrepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/history"
	metafieldrepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/metafield"
	notificationrepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/notification"
	rulerepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/rule"
	rulesetrepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/ruleset"
	taskrepo "github.com/avdeenkov/recodehub/internal/adapter/postgres/task"
	"github.com/avdeenkov/recodehub/internal/config"
	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
	"github.com/avdeenkov/recodehub/internal/index"
	"github.com/avdeenkov/recodehub/internal/metrics"
	"github.com/avdeenkov/recodehub/internal/service/catalog"
	"github.com/avdeenkov/recodehub/internal/service/history"
	"github.com/avdeenkov/recodehub/internal/service/notify"
	"github.com/avdeenkov/recodehub/internal/service/propagation"
	"github.com/avdeenkov/recodehub/internal/service/rules"
	"github.com/avdeenkov/recodehub/internal/service/tasks"
)

// App is the assembled engine with its services ready to use.
type App struct {
	Cfg    *config.Config
	Log    *slog.Logger
	Bus    *eventbus.Bus
	Pool   *pgxpool.Pool
	Cat    *catalog.Service
	Rules  *rules.Service
	Notify *notify.Service
	Tasks  *tasks.Service
	Index  *index.Service

	nc *nats.Conn
}

// New builds the application from configuration. The caller owns the
// lifecycle: Start the task workers, then Close on the way out.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	tx := postgres.NewTxManager(pool)
	bus := eventbus.New(logger)

	m := metrics.New(prometheus.DefaultRegisterer)
	m.Register(bus)

	groups := grouprepo.New(pool)
	dicts := dictionaryrepo.New(pool)
	metaFields := metafieldrepo.New(pool)
	fields := fieldrepo.New(pool)
	ruleSets := rulesetrepo.New(pool)
	ruleRows := rulerepo.New(pool)

	historySvc := history.NewService(logger, history.DefaultRegistry(), historyrepo.New(pool))
	catalogSvc := catalog.NewService(logger, groups, dicts, metaFields, fields, historySvc, bus, tx)
	rulesSvc := rules.NewService(logger, ruleSets, ruleRows, catalogSvc, dicts, metaFields, fields, historySvc, tx)
	propagation.NewEngine(logger, rulesSvc, bus).Register(bus)

	notifySvc := notify.NewService(logger, notificationrepo.New(pool), m, cfg.Notify.Window)
	notifySvc.Register(bus)

	taskSvc := tasks.NewService(logger, taskrepo.New(pool), bus, m, cfg.Tasks.Workers, cfg.Tasks.QueueSize)

	app := &App{
		Cfg:    cfg,
		Log:    logger,
		Bus:    bus,
		Pool:   pool,
		Cat:    catalogSvc,
		Rules:  rulesSvc,
		Notify: notifySvc,
		Tasks:  taskSvc,
	}

	var indexer index.Indexer = noopIndexer{log: logger}
	if cfg.NATS.Enabled() {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("recodehub"))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		app.nc = nc
		bus.Forward(natsbus.New(logger, nc, cfg.NATS.SubjectPrefix))
		indexer = natsbus.NewIndexer(logger, nc, cfg.NATS.SubjectPrefix)
	}

	reg := index.DefaultRegistry()
	indexSvc := index.NewService(logger, reg, indexer, bus)
	indexSvc.RegisterSource(domain.EntityGroup, index.Source{
		LoadAll: func(ctx context.Context) ([]index.Document, error) {
			all, err := groups.List(ctx)
			if err != nil {
				return nil, err
			}
			docs := make([]index.Document, 0, len(all))
			for i := range all {
				g := &all[i]
				if g.IsClosed() {
					continue
				}
				doc, err := reg.BuildDocument(domain.EntityGroup, g.ID, g)
				if err != nil {
					return nil, err
				}
				docs = append(docs, doc)
			}
			return docs, nil
		},
		LoadOne: func(ctx context.Context, id uuid.UUID) (index.Document, error) {
			g, err := groups.GetByID(ctx, id)
			if err != nil {
				return index.Document{}, err
			}
			return reg.BuildDocument(domain.EntityGroup, g.ID, g)
		},
	})
	indexSvc.RegisterSource(domain.EntityRuleSet, index.Source{
		LoadAll: func(ctx context.Context) ([]index.Document, error) {
			active, err := ruleSets.ListActive(ctx)
			if err != nil {
				return nil, err
			}
			docs := make([]index.Document, 0, len(active))
			for i := range active {
				s := &active[i]
				doc, err := reg.BuildDocument(domain.EntityRuleSet, s.ID, s)
				if err != nil {
					return nil, err
				}
				docs = append(docs, doc)
			}
			return docs, nil
		},
		LoadOne: func(ctx context.Context, id uuid.UUID) (index.Document, error) {
			s, err := ruleSets.GetByID(ctx, id)
			if err != nil {
				return index.Document{}, err
			}
			return reg.BuildDocument(domain.EntityRuleSet, s.ID, s)
		},
	})
	indexSvc.Register(bus)
	app.Index = indexSvc

	taskSvc.Register(indexSvc)

	// A rebuild request on the bus becomes a task; the performer publishes
	// the acknowledgment when the rebuild lands.
	bus.Subscribe(eventbus.TopicIndexRebuild, app.submitRebuildTask)

	return app, nil
}

// Start launches the task workers.
func (a *App) Start(ctx context.Context) {
	a.Tasks.Start(ctx)
}

// Close drains the workers and releases connections.
func (a *App) Close() {
	a.Tasks.Shutdown()
	if a.nc != nil {
		a.nc.Close()
	}
	a.Pool.Close()
}

func (a *App) submitRebuildTask(ctx context.Context, ev eventbus.Event) error {
	r := ev.IndexRebuild
	if r == nil || r.Acknowledged {
		return nil
	}

	_, err := a.Tasks.SubmitAsync(ctx, domain.TaskDescriptor{
		Performer:   index.PerformerName,
		IdentityKey: index.PerformerName + ":" + string(r.TargetType),
		Parameters:  map[string]string{index.ParamTargetType: string(r.TargetType)},
	})
	if err != nil {
		a.Log.Warn("rebuild request not scheduled", slog.Any("error", err))
	}
	return nil
}

// DiagnosticsHandler serves Prometheus metrics and health probes.
func (a *App) DiagnosticsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run is the long-running entry point used by cmd/server. It blocks until
// the context is canceled, then shuts the engine down.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)
	logger.Info("starting",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
	)

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Start(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.DiagnosticsHandler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("diagnostics listening", slog.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("diagnostics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("diagnostics shutdown", slog.Any("error", err))
	}

	logger.Info("stopped")
	return nil
}

// noopIndexer swallows index traffic when no NATS transport is
// configured. Rebuild acks still flow, so local setups behave.
type noopIndexer struct {
	log *slog.Logger
}

func (n noopIndexer) Upsert(_ context.Context, doc index.Document) error {
	n.log.Debug("index upsert dropped, no transport", slog.String("id", doc.ID.String()))
	return nil
}

func (n noopIndexer) Delete(_ context.Context, t domain.EntityType, _ uuid.UUID) error {
	n.log.Debug("index delete dropped, no transport", slog.String("type", string(t)))
	return nil
}

func (n noopIndexer) Rebuild(_ context.Context, t domain.EntityType, docs []index.Document) error {
	n.log.Debug("index rebuild dropped, no transport",
		slog.String("type", string(t)), slog.Int("documents", len(docs)))
	return nil
}
