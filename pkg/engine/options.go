package engine

import (
	"log/slog"
	"time"

	"github.com/dukex/weave/pkg/eventbus"
	"github.com/dukex/weave/pkg/expression"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/queue"
	"github.com/dukex/weave/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Engine.
type Option func(*config)

type config struct {
	maxConcurrent int
	tickInterval  time.Duration
	queue         queue.Queue
	publisher     eventbus.EventPublisher
	evaluator     expression.Evaluator
	taskRunner    workflow.TaskRunner
	scriptRunner  workflow.ScriptRunner
	handlers      map[models.NodeType]workflow.Handler
	logger        *slog.Logger
	tracer        trace.Tracer
}

// WithMaxConcurrentExecutions bounds the walks running at once across every workflow.
func WithMaxConcurrentExecutions(n int) Option {
	return func(c *config) { c.maxConcurrent = n }
}

// WithTickInterval sets how often the scheduler polls the queue when not woken early.
func WithTickInterval(d time.Duration) Option {
	return func(c *config) { c.tickInterval = d }
}

// WithQueue replaces the in-memory pending queue.
func WithQueue(q queue.Queue) Option {
	return func(c *config) { c.queue = q }
}

// WithPublisher sets where workflow, execution and node events are sent.
func WithPublisher(p eventbus.EventPublisher) Option {
	return func(c *config) { c.publisher = p }
}

// WithEvaluator sets the evaluator of decision and connection conditions.
func WithEvaluator(e expression.Evaluator) Option {
	return func(c *config) { c.evaluator = e }
}

// WithTaskRunner sets what task nodes do.
func WithTaskRunner(r workflow.TaskRunner) Option {
	return func(c *config) { c.taskRunner = r }
}

// WithScriptRunner sets the runner of script nodes. Without one script nodes fail.
func WithScriptRunner(r workflow.ScriptRunner) Option {
	return func(c *config) { c.scriptRunner = r }
}

// WithHandler overrides the handler of one node type, e.g. to implement webhook or
// approval nodes.
func WithHandler(nodeType models.NodeType, h workflow.Handler) Option {
	return func(c *config) {
		if c.handlers == nil {
			c.handlers = make(map[models.NodeType]workflow.Handler)
		}

		c.handlers[nodeType] = h
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *config) { c.tracer = t }
}
