package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/weave/pkg/actions"
	"github.com/dukex/weave/pkg/cmd"
	"github.com/dukex/weave/pkg/engine"
	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/events"
	"github.com/dukex/weave/pkg/log"
	"github.com/dukex/weave/pkg/triggers/schedule"
	"github.com/dukex/weave/pkg/triggers/webhook"
	"github.com/dukex/weave/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API, the scheduler and schedule triggers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (memory://, file://path, postgres://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Pending execution queue URL (memory://, redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (none, gochannel, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-executions",
				Usage:   "Executions running at once across every workflow",
				Value:   10,
				Sources: cli.EnvVars("MAX_CONCURRENT_EXECUTIONS"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often the scheduler polls the queue",
				Value:   time.Second,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP (configured by OTEL_EXPORTER_OTLP_* variables)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, command)
		},
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("weave-serve")

	logger.InfoContext(ctx, "Initializing Weave")

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "weave")
	if err != nil {
		return err
	}

	defer func() {
		err := shutdownTracer(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	queue, err := cmd.NewQueue(ctx, logger, command.String("queue-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := queue.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.String("kafka-brokers"))
	if err != nil {
		return err
	}

	var outbound eventbus.EventPublisher = eventbus.Noop{}

	if bus != nil {
		outbound = bus

		defer func() {
			err := bus.Close()
			if err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()

		err = watchErrors(ctx, bus)
		if err != nil {
			return fmt.Errorf("failed to subscribe to the event bus: %w", err)
		}
	}

	schedules := schedule.NewManager(outbound, logger)

	e := engine.New(persistence,
		engine.WithQueue(queue),
		engine.WithPublisher(eventbus.Multi{outbound, schedules}),
		engine.WithMaxConcurrentExecutions(command.Int("max-concurrent-executions")),
		engine.WithTickInterval(command.Duration("tick-interval")),
		engine.WithTaskRunner(actions.NewRunner(logger)),
		engine.WithLogger(logger),
		engine.WithTracer(tracer),
	)

	err = e.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	err = schedules.Start(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to start schedule triggers: %w", err)
	}

	app := newApp(e, outbound)

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- app.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.InfoContext(ctx, "Weave API listening", "port", command.Int("port"))

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	case err = <-serverErr:
		logger.ErrorContext(ctx, "API server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to shutdown API server", "error", err)
	}

	if err := schedules.Stop(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to stop schedule triggers", "error", err)
	}

	if err := e.Stop(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "Running executions were interrupted", "error", err)
	}

	return err
}

func newApp(e *engine.Engine, publisher eventbus.EventPublisher) *fiber.App {
	handlers := web.NewAPIHandlers(e, validator.New(validator.WithRequiredStructEnabled())).
		WithWebhooks(webhook.NewReceiver(e, publisher, log.WithModule("weave-serve")))

	app := fiber.New()
	app.Use(recoverer.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, ok := e.HealthCheck(c.Context())

			return ok
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Weave API")
	})

	handlers.RegisterRoutes(app)

	return app
}

// watchErrors logs the workflow:error events travelling on the bus.
func watchErrors(ctx context.Context, bus eventbus.EventBus) error {
	logger := log.WithModule("event-bus")

	err := bus.Handle(events.WorkflowErrorEvent, func(ctx context.Context, event any) error {
		if e, ok := event.(*events.WorkflowError); ok {
			logger.WarnContext(ctx, "Workflow error", "workflow_id", e.WorkflowID, "source", e.Source, "error", e.Error)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}
