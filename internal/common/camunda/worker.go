package camunda

import (
	"context"
	"time"

	"apns-workers/internal/common/config"
	"apns-workers/internal/common/logger"
	"apns-workers/internal/common/metrics"
	"apns-workers/internal/common/observability"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandlerFunc matches the handler signature the Zeebe job worker expects.
type JobHandlerFunc func(client worker.JobClient, job entities.Job)

type Worker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

// Instrument wraps handler with active-job, duration and processed-job
// recording.
func Instrument(taskType string, handler JobHandlerFunc, obs *observability.Observability) JobHandlerFunc {
	return func(client worker.JobClient, job entities.Job) {
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()

		start := time.Now()
		handler(client, job)
		elapsed := time.Since(start)

		metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
		obs.RecordJobDuration(context.Background(), taskType, elapsed, "handled")
		obs.RecordJobProcessed(context.Background(), taskType, "handled")
	}
}

// StartWorker opens a job worker for taskType, or returns nil when the
// worker is disabled in config.
func StartWorker(
	client zbc.Client,
	taskType string,
	wcfg config.WorkerConfig,
	handler JobHandlerFunc,
	obs *observability.Observability,
	log logger.Logger,
) *Worker {
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	if !wcfg.Enabled {
		log.Info("worker disabled", nil)
		return nil
	}

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(worker.JobHandler(Instrument(taskType, handler, obs))).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})

	return &Worker{worker: jobWorker, logger: log, taskType: taskType}
}

// Stop closes the job worker and waits for in-flight jobs.
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
