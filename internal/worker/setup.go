package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/config"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/workflow"
	"github.com/ahrav/go-appraise/pkg/activity"
	"github.com/ahrav/go-appraise/pkg/events"
)

// InitializeEventSink builds the sink named by cfg. The returned close
// function releases any connection the sink owns.
func InitializeEventSink(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (events.EventSink, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Sink {
	case "", config.SinkNone:
		return events.NewNoOpEventSink(), noop, nil
	case config.SinkLog:
		return events.NewLogSink(logger), noop, nil
	case config.SinkRedis:
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, nil, fmt.Errorf("connect event stream redis: %w", err)
		}
		return events.NewRedisStreamSink(rc, cfg.Stream, cfg.MaxLen), rc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown event sink %q", cfg.Sink)
	}
}

// Dial connects to the Temporal frontend in cfg with slog-backed SDK logging.
func Dial(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// Run hosts the appraisal workflow and activity until ctx is done.
func Run(ctx context.Context, cfg *config.Config, svc *appraisal.Service, logger *slog.Logger) error {
	sink, closeSink, err := InitializeEventSink(ctx, cfg.Events, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeSink() }()

	c, err := Dial(cfg.Temporal, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	w := sdkworker.New(c, cfg.Temporal.TaskQueue, sdkworker.Options{})
	RegisterAll(w, appraisal.NewActivities(activity.NewBaseActivities(sink), svc))

	logger.Info("temporal worker starting",
		"host_port", cfg.Temporal.HostPort,
		"namespace", cfg.Temporal.Namespace,
		"task_queue", cfg.Temporal.TaskQueue,
		"event_sink", cfg.Events.Sink,
	)

	stop := make(chan any)
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	if err := w.Run(stop); err != nil {
		return fmt.Errorf("temporal worker: %w", err)
	}
	return nil
}

// Submit starts ConsensusWorkflow for req and waits for its report.
func Submit(ctx context.Context, c client.Client, taskQueue string, req appraisal.Request) (*consensus.Report, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "appraisal-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, workflow.ConsensusWorkflow, req)
	if err != nil {
		return nil, fmt.Errorf("start consensus workflow: %w", err)
	}
	var report consensus.Report
	if err := run.Get(ctx, &report); err != nil {
		return nil, fmt.Errorf("consensus workflow %s: %w", run.GetID(), err)
	}
	return &report, nil
}
