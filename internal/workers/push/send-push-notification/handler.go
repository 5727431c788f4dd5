// internal/workers/push/send-push-notification/handler.go
package sendpushnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"apns-workers/internal/apns/frame"
	"apns-workers/internal/apns/payload"
	"apns-workers/internal/common/config"
	"apns-workers/internal/common/errors"
	"apns-workers/internal/common/logger"
	"apns-workers/internal/common/metrics"
	"apns-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const TaskType = "send-push-notification"

// Sink receives encoded frames; transport.Gateway in production.
type Sink interface {
	Send(ctx context.Context, frame []byte) error
}

// InvalidTokenCache reports tokens the feedback service has rejected.
type InvalidTokenCache interface {
	IsInvalid(ctx context.Context, token string) (bool, error)
}

// TokenChecker is the authoritative token registry.
type TokenChecker interface {
	IsActive(ctx context.Context, token string) (bool, error)
}

type Handler struct {
	config       *Config
	sink         Sink
	cache        InvalidTokenCache
	store        TokenChecker
	validator    *validation.Validator
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Sink         Sink
	Cache        InvalidTokenCache // optional
	Store        TokenChecker      // optional, consulted when the cache has no answer
	Validator    *validation.Validator
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := opts.CustomConfig
	if cfg == nil {
		cfg = createConfigFromAppConfig(opts.AppConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("%s: sink is required", TaskType)
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
		sink:         opts.Sink,
		cache:        opts.Cache,
		store:        opts.Store,
		validator:    v,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:          time.Now,
	}, nil
}

var defaultValidator = validation.MustValidator(InputSchema)

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

	// The job key's low bits are unique enough to correlate gateway errors.
	output, err := h.Execute(ctx, input, uint32(job.GetKey()))
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

	result := h.validator.ValidateInput(variables)
	if !result.Valid {
		return nil, errors.NewInvalidJobInputError(fmt.Sprintf("validation errors: %v", result.GetErrorMessages()))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, errors.NewInvalidJobInputError(fmt.Sprintf("decode variables: %v", err))
	}
	return &input, nil
}

// Execute builds the payload and frame for input and writes it to the sink.
// defaultIdentifier is used when the input carries no identifier.
func (h *Handler) Execute(ctx context.Context, input *Input, defaultIdentifier uint32) (*Output, error) {
	token, err := frame.ParseDeviceToken(input.DeviceToken)
	if err != nil {
		return nil, err
	}

	identifier := defaultIdentifier
	if input.Identifier != nil {
		identifier = *input.Identifier
	}
	notificationID := uuid.New().String()

	if !h.deliverable(ctx, token.String(), identifier) {
		metrics.NotificationsSkipped.Inc()
		return &Output{
			NotificationID: notificationID,
			Status:         StatusSkipped,
			Identifier:     identifier,
		}, nil
	}

	alert, err := buildAlert(input)
	if err != nil {
		return nil, err
	}

	opts := payload.Options{
		Alert:     alert,
		Badge:     input.Badge,
		Sound:     input.Sound,
		Custom:    input.Custom,
		MaxLength: h.config.MaxPayloadLength,
		Truncate:  h.config.Truncate,
	}
	if input.MaxLength > 0 {
		opts.MaxLength = input.MaxLength
	}
	if input.Truncate != nil {
		opts.Truncate = *input.Truncate
	}

	p, err := payload.New(opts)
	if err != nil {
		metrics.PayloadErrors.WithLabelValues(string(errors.Normalize(err).Code)).Inc()
		return nil, err
	}
	metrics.PayloadBytes.Observe(float64(p.Len()))
	if p.Truncated() {
		metrics.PayloadsTruncated.Inc()
		h.logger.Debug("alert truncated", map[string]interface{}{
			"identifier":   identifier,
			"payloadBytes": p.Len(),
			"maxLength":    p.MaxLength(),
		})
	}

	n := frame.Notification{
		Token:      token,
		Payload:    p,
		Identifier: identifier,
		Expiry:     h.expiry(input),
	}
	encoded, err := n.Frame()
	if err != nil {
		return nil, err
	}
	metrics.FramesEncoded.Inc()

	if err := h.sink.Send(ctx, encoded); err != nil {
		return nil, err
	}

	return &Output{
		NotificationID: notificationID,
		Status:         StatusSent,
		Identifier:     identifier,
		PayloadBytes:   p.Len(),
		Truncated:      p.Truncated(),
		SentAt:         h.now().UTC().Format(time.RFC3339),
	}, nil
}

// deliverable asks the invalid-token cache first and falls back to the token
// store on a miss or a cache failure. Lookup failures never block delivery.
func (h *Handler) deliverable(ctx context.Context, token string, identifier uint32) bool {
	if h.cache != nil {
		invalid, err := h.cache.IsInvalid(ctx, token)
		switch {
		case err != nil:
			h.logger.Warn("invalid-token cache lookup failed", map[string]interface{}{
				"error": err,
				"token": token,
			})
		case invalid:
			h.logger.Info("skipping invalidated token", map[string]interface{}{
				"token":      token,
				"identifier": identifier,
				"source":     "cache",
			})
			return false
		}
	}

	if h.store == nil {
		return true
	}
	active, err := h.store.IsActive(ctx, token)
	if err != nil {
		h.logger.Warn("token store lookup failed", map[string]interface{}{
			"error": err,
			"token": token,
		})
		return true
	}
	if !active {
		h.logger.Info("skipping deactivated token", map[string]interface{}{
			"token":      token,
			"identifier": identifier,
			"source":     "store",
		})
	}
	return active
}

func (h *Handler) expiry(input *Input) time.Time {
	if input.Expiry != nil {
		return *input.Expiry
	}
	if h.config.NotificationTTL > 0 {
		return h.now().Add(h.config.NotificationTTL)
	}
	return time.Time{}
}

func buildAlert(input *Input) (*payload.Alert, error) {
	dict := input.AlertBody != "" || input.ActionLocKey != "" || input.LocKey != "" ||
		input.LocArgs != nil || input.LaunchImage != ""

	switch {
	case dict && input.Alert != "":
		return nil, errors.NewInvalidJobInputError("alert and alert dictionary fields are mutually exclusive")
	case dict:
		return &payload.Alert{
			Body:         input.AlertBody,
			ActionLocKey: input.ActionLocKey,
			LocKey:       input.LocKey,
			LocArgs:      input.LocArgs,
			LaunchImage:  input.LaunchImage,
		}, nil
	case input.Alert != "":
		return payload.TextAlert(input.Alert), nil
	default:
		return nil, nil
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
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":     job.GetKey(),
		"status":     output.Status,
		"identifier": output.Identifier,
		"truncated":  output.Truncated,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
