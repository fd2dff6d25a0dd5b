package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"github.com/veloflow/veloflow/pkg/breaker"
	"github.com/veloflow/veloflow/pkg/cmd"
	"github.com/veloflow/veloflow/pkg/conditions"
	"github.com/veloflow/veloflow/pkg/eventbus"
	"github.com/veloflow/veloflow/pkg/otelhelper"
	"github.com/veloflow/veloflow/pkg/persistence"
	"github.com/veloflow/veloflow/pkg/retry"
	"github.com/veloflow/veloflow/pkg/scheduler"
	"github.com/veloflow/veloflow/pkg/workflow"
)

const shutdownTimeout = 30 * time.Second

// Worker hosts the execution engine and the scheduler in one process.
type Worker struct {
	id        string
	store     persistence.Persistence
	eventBus  eventbus.EventBus
	engine    *workflow.Engine
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

func NewWorker(workerID string, command *cli.Command, logger *slog.Logger) (*Worker, error) {
	store, err := cmd.NewPersistence(command.String("database-url"))
	if err != nil {
		return nil, err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "veloflow-worker", logger)
	if err != nil {
		return nil, err
	}

	evaluator, err := conditions.NewEvaluator(int(command.Int("condition-cache-size")), logger)
	if err != nil {
		return nil, err
	}

	registry := cmd.NewRegistry(logger)
	retrier := retry.NewCoordinator(breaker.NewRegistry(0, 0, logger), logger)
	engine := workflow.NewEngine(store, registry, evaluator, retrier, eventBus, logger)

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tracer, err := otelhelper.NewTracer(context.Background(), "veloflow-worker")
		if err != nil {
			return nil, err
		}

		engine.SetTracer(tracer)
	}

	sched := scheduler.NewScheduler(store, engine, evaluator, eventBus, nil, logger)

	return &Worker{
		id:        workerID,
		store:     store,
		eventBus:  eventBus,
		engine:    engine,
		scheduler: sched,
		logger:    logger,
	}, nil
}

// Run starts the scheduler and blocks until the process receives a
// termination signal, then shuts down cooperatively.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		w.logger.InfoContext(ctx, "Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := w.scheduler.Stop(shutdownCtx); err != nil {
		w.logger.Error("Scheduler shutdown incomplete", "error", err)
	}

	if err := w.eventBus.Close(); err != nil {
		w.logger.Error("Failed to close event bus", "error", err)
	}

	if err := w.store.Close(shutdownCtx); err != nil {
		w.logger.Error("Failed to close persistence", "error", err)
	}

	w.logger.Info("Worker stopped")

	return nil
}
