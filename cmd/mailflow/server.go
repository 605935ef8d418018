package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/api/handlers"
	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/history"
	"github.com/BaSui01/mailflow/internal/cache"
	"github.com/BaSui01/mailflow/internal/metrics"
	"github.com/BaSui01/mailflow/internal/retry"
	"github.com/BaSui01/mailflow/internal/server"
	"github.com/BaSui01/mailflow/llm"
	"github.com/BaSui01/mailflow/notify"
	"github.com/BaSui01/mailflow/priority"
	"github.com/BaSui01/mailflow/rag"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/workflow"
)

// Server owns the wired service: API listener, metrics listener and the
// batch scheduler goroutine.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	api       *server.Manager
	metrics   *server.Manager
	scheduler *notify.Scheduler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer wires every collaborator. Transport adapters for mail, model
// and channel default to the logging development implementations; real
// deployments swap them via their own build of this wiring.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, err
	}

	items := store.NewItemStore(db, logger)
	instances := store.NewInstanceStore(db, logger)
	checkpoints := store.NewCheckpointStore(db, logger)
	decisions := store.NewDecisionStore(db, logger)
	prefs := store.NewPreferenceStore(db, logger)

	collector := metrics.NewCollector("mailflow", logger)
	ledger := history.NewService(decisions, collector, logger)
	runner := retry.NewRunner(retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, logger)

	// Development transports; see dev.go.
	mailProvider := newDevMail(logger)
	messenger := newDevMessenger(logger)
	model := newDevModel(cfg.LLM)

	var embCache *cache.EmbeddingCache
	if cfg.Redis.Addr != "" {
		embCache = cache.NewEmbeddingCache(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			TTL:      cfg.Redis.EmbeddingTTL,
		}, logger)
	}

	retriever, err := rag.NewRetriever(cfg.RAG, model, rag.NewFlatIndex(), embCache, collector, logger)
	if err != nil {
		return nil, err
	}

	classifier := llm.NewClassifier(model, runner, cfg.LLM, logger)
	detector := priority.NewDetector(cfg.Priority)
	dispatcher := notify.NewDispatcher(cfg.Notify, messenger, instances, prefs, cfg.LLM.Categories, collector, logger)
	scheduler := notify.NewScheduler(cfg.Notify.SchedulerTick, dispatcher, prefs, logger)

	engine := workflow.NewEngine(workflow.Deps{
		Items:       items,
		Instances:   instances,
		Checkpoints: checkpoints,
		Ledger:      ledger,
		Mail:        mailProvider,
		Messenger:   messenger,
		Retriever:   retriever,
		Classifier:  classifier,
		Model:       model,
		Detector:    detector,
		Dispatcher:  dispatcher,
		Runner:      runner,
		Metrics:     collector,
		Logger:      logger,
	})

	mux := handlers.NewMux(
		handlers.NewItemsHandler(items, engine, logger),
		handlers.NewCallbackHandler(engine, logger),
		handlers.NewHistoryHandler(ledger, logger),
		handlers.NewHealthHandler(db, Version, logger),
	)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	return &Server{
		cfg:    cfg,
		logger: logger,
		api: server.NewManager("api", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger),
		metrics: server.NewManager("metrics", metricsMux, server.Config{
			Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger),
		scheduler: scheduler,
		done:      make(chan struct{}),
	}, nil
}

// Start brings up both listeners and the scheduler loop.
func (s *Server) Start() error {
	if err := s.api.Start(); err != nil {
		return err
	}
	if err := s.metrics.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		if err := s.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	s.logger.Info("mailflow serving",
		zap.String("api", s.api.Addr()),
		zap.String("metrics", s.metrics.Addr()))
	return nil
}

// WaitForShutdown blocks until a signal or listener failure, then shuts
// everything down gracefully.
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-s.api.Err():
		s.logger.Error("api listener failed", zap.Error(err))
	case err := <-s.metrics.Err():
		s.logger.Error("metrics listener failed", zap.Error(err))
	}

	s.cancel()
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.api.Shutdown(ctx); err != nil {
		s.logger.Warn("api shutdown", zap.Error(err))
	}
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics shutdown", zap.Error(err))
	}
}
