// Package main provides the Veloflow gateway server implementation.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"
	"github.com/veloflow/veloflow/pkg/breaker"
	"github.com/veloflow/veloflow/pkg/cmd"
	"github.com/veloflow/veloflow/pkg/conditions"
	"github.com/veloflow/veloflow/pkg/otelhelper"
	"github.com/veloflow/veloflow/pkg/retry"
	"github.com/veloflow/veloflow/pkg/scheduler"
	"github.com/veloflow/veloflow/pkg/services"
	"github.com/veloflow/veloflow/pkg/triggers"
	"github.com/veloflow/veloflow/pkg/web"
	"github.com/veloflow/veloflow/pkg/workflow"
)

type API struct {
	logger    *slog.Logger
	handlers  *web.APIHandlers
	scheduler *scheduler.Scheduler
}

func NewAPI(command *cli.Command, logger *slog.Logger) (*API, error) {
	store, err := cmd.NewPersistence(command.String("database-url"))
	if err != nil {
		return nil, err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "veloflow-gateway", logger)
	if err != nil {
		return nil, err
	}

	evaluator, err := conditions.NewEvaluator(int(command.Int("condition-cache-size")), logger)
	if err != nil {
		return nil, err
	}

	reg := cmd.NewRegistry(logger)
	retrier := retry.NewCoordinator(breaker.NewRegistry(0, 0, logger), logger)
	engine := workflow.NewEngine(store, reg, evaluator, retrier, eventBus, logger)

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tracer, err := otelhelper.NewTracer(context.Background(), "veloflow-gateway")
		if err != nil {
			return nil, err
		}

		engine.SetTracer(tracer)
	}

	router := triggers.NewRouter(store, engine, logger)
	sched := scheduler.NewScheduler(store, engine, evaluator, eventBus, nil, logger)
	workflowService := services.NewWorkflow(store, reg)
	validate := validator.New(validator.WithRequiredStructEnabled())

	return &API{
		logger:    logger,
		handlers:  web.NewAPIHandlers(workflowService, store, engine, router, sched, validate, logger),
		scheduler: sched,
	}, nil
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Veloflow Gateway")
	})

	app.All("/webhooks/:id", a.handlers.HandleWebhook)
	app.Post("/email", a.handlers.HandleEmail)
	app.Post("/forms/:id", a.handlers.HandleForm)
	app.Post("/events/:name", a.handlers.NotifyEvent)

	w := app.Group("/workflows")
	w.Get("/", a.handlers.GetWorkflows)
	w.Post("/", a.handlers.CreateWorkflow)
	w.Get("/:id", a.handlers.GetWorkflow)
	w.Put("/:id", a.handlers.UpdateWorkflow)
	w.Delete("/:id", a.handlers.DeleteWorkflow)
	w.Post("/:id/activate", a.handlers.ActivateWorkflow)
	w.Post("/:id/pause", a.handlers.PauseWorkflow)
	w.Post("/:id/run", a.handlers.RunWorkflow)
	w.Get("/:id/executions", a.handlers.GetWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", a.handlers.GetExecution)
	e.Post("/:id/cancel", a.handlers.CancelExecution)
	e.Post("/:id/pause", a.handlers.PauseExecution)
	e.Post("/:id/resume", a.handlers.ResumeExecution)

	s := app.Group("/schedules")
	s.Post("/", a.handlers.CreateSchedule)
	s.Delete("/:id", a.handlers.DeleteSchedule)
	s.Post("/:id/enable", a.handlers.EnableSchedule)
	s.Post("/:id/disable", a.handlers.DisableSchedule)
	s.Get("/stats", a.handlers.GetSchedulerStats)
	s.Get("/upcoming", a.handlers.GetUpcomingFires)

	app.Get("/health", a.handlers.HealthCheck)

	return app
}

// Start runs the scheduler alongside the HTTP listener so schedules fire in
// the same process that serves the API.
func (a *API) Start(ctx context.Context, port int) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := a.scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error("Scheduler shutdown incomplete", "error", err)
		}
	}()

	return a.App().Listen(":" + strconv.Itoa(port))
}
