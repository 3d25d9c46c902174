package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/bodega-erp/bodega-erp/internal/jobs"
	"github.com/bodega-erp/bodega-erp/internal/pricing"
)

// PriceWarmupJob pushes every active price into the cache so the first
// lookup after a restart does not stampede the database.
type PriceWarmupJob struct {
	Pricing *pricing.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPriceWarmupJob wires dependencies for the warmup handler.
func NewPriceWarmupJob(pricingSvc *pricing.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *PriceWarmupJob {
	return &PriceWarmupJob{Pricing: pricingSvc, Logger: logger, Metrics: metrics}
}

// Handle processes price warmup tasks.
func (j *PriceWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pricing == nil {
		return errors.New("price warmup: handler not configured")
	}
	var payload PriceWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPriceWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()
	warmed, err := j.Pricing.WarmCache(ctx)
	if err != nil {
		resultErr = err
		logger.Error("price warmup failed", slog.Any("error", err))
		return resultErr
	}
	logger.Info("price warmup completed",
		slog.Int("products", warmed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *PriceWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPriceWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPriceWarmup))
}

func (j *PriceWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
