// internal/workers/push/process-apns-feedback/handler.go
package processapnsfeedback

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"apns-workers/internal/apns/feedback"
	"apns-workers/internal/common/aws"
	"apns-workers/internal/common/config"
	"apns-workers/internal/common/errors"
	"apns-workers/internal/common/logger"
	"apns-workers/internal/common/metrics"
	"apns-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "process-apns-feedback"

// Stream is an open feedback connection.
type Stream interface {
	feedback.ChunkSource
	Close() error
}

// OpenFunc dials the feedback service.
type OpenFunc func(ctx context.Context) (Stream, error)

// TokenDeactivator is the authoritative token store.
type TokenDeactivator interface {
	DeactivateBatch(ctx context.Context, records []feedback.Record) (int, error)
}

// InvalidTokenMarker is the cache consulted by the sender.
type InvalidTokenMarker interface {
	MarkInvalid(ctx context.Context, token string, at time.Time) error
}

// EventPublisher fans out invalidation events.
type EventPublisher interface {
	PublishTokenInvalidated(ctx context.Context, ev aws.TokenInvalidatedEvent) (string, error)
}

type Handler struct {
	config       *Config
	open         OpenFunc
	store        TokenDeactivator
	cache        InvalidTokenMarker
	publisher    EventPublisher
	validator    *validation.Validator
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Open         OpenFunc
	Store        TokenDeactivator
	Cache        InvalidTokenMarker // optional
	Publisher    EventPublisher     // optional
	Validator    *validation.Validator
	Logger       logger.Logger
}

var defaultValidator = validation.MustValidator(InputSchema)

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := opts.CustomConfig
	if cfg == nil {
		cfg = createConfigFromAppConfig(opts.AppConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Open == nil || opts.Store == nil {
		return nil, fmt.Errorf("%s: feedback opener and token store are required", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	v := opts.Validator
	if v == nil {
		v = defaultValidator
	}

	return &Handler{
		config:       cfg,
		open:         opts.Open,
		store:        opts.Store,
		cache:        opts.Cache,
		publisher:    opts.Publisher,
		validator:    v,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:          time.Now,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidJobInputError(fmt.Sprintf("parse variables: %v", err))
	}
	if result := h.validator.ValidateInput(variables); !result.Valid {
		return nil, errors.NewInvalidJobInputError(fmt.Sprintf("validation errors: %v", result.GetErrorMessages()))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, errors.NewInvalidJobInputError(fmt.Sprintf("decode variables: %v", err))
	}
	return &input, nil
}

// Execute drains the feedback service in batches. The service hands each
// record over once, so the stream is always read to the end: after a batch
// fails, the remaining records are only cached, and the first error is
// returned once the stream is drained.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	stream, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	out := &Output{}
	batch := make([]feedback.Record, 0, h.config.BatchSize)
	dec := feedback.NewDecoder(stream)

	var applyErr, streamErr error
	for {
		rec, err := dec.Next(ctx)
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		metrics.FeedbackRecords.Inc()
		if input.DryRun {
			continue
		}
		if applyErr != nil {
			h.markInvalid(ctx, rec)
			continue
		}

		batch = append(batch, rec)
		if len(batch) < h.config.BatchSize {
			continue
		}
		if err := h.apply(ctx, batch, out); err != nil {
			applyErr = err
			h.logger.Warn("batch failed, caching remaining records only", map[string]interface{}{
				"error":   err,
				"decoded": dec.Decoded(),
			})
		}
		batch = batch[:0]
	}
	if applyErr == nil && len(batch) > 0 {
		applyErr = h.apply(ctx, batch, out)
	}
	out.RecordsProcessed = dec.Decoded()

	h.logger.Info("feedback drained", map[string]interface{}{
		"recordsProcessed":  out.RecordsProcessed,
		"tokensDeactivated": out.TokensDeactivated,
		"eventsPublished":   out.EventsPublished,
		"dryRun":            input.DryRun,
	})

	if applyErr != nil {
		return nil, applyErr
	}
	if streamErr != nil {
		return nil, streamErr
	}
	out.CompletedAt = h.now().UTC().Format(time.RFC3339)
	return out, nil
}

// apply caches, deactivates and announces one batch, in that order, so the
// sender stops using a token as early as possible.
func (h *Handler) apply(ctx context.Context, batch []feedback.Record, out *Output) error {
	for _, rec := range batch {
		h.markInvalid(ctx, rec)
	}

	n, err := h.store.DeactivateBatch(ctx, batch)
	if err != nil {
		return err
	}
	out.TokensDeactivated += n
	metrics.TokensDeactivated.Add(float64(n))

	if h.publisher == nil {
		return nil
	}
	for _, rec := range batch {
		if _, err := h.publisher.PublishTokenInvalidated(ctx, aws.TokenInvalidatedEvent{
			Token:        rec.Token,
			InvalidSince: rec.Time(),
			Environment:  h.config.Environment,
		}); err != nil {
			return err
		}
		out.EventsPublished++
	}
	return nil
}

func (h *Handler) markInvalid(ctx context.Context, rec feedback.Record) {
	if h.cache == nil {
		return
	}
	if err := h.cache.MarkInvalid(ctx, rec.Token, rec.Time()); err != nil {
		h.logger.Warn("failed to cache invalid token", map[string]interface{}{
			"error": err,
			"token": rec.Token,
		})
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error":  err,
			"jobKey": job.GetKey(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error":  err,
			"jobKey": job.GetKey(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
