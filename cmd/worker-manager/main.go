package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apns-workers/internal/apns/transport"
	"apns-workers/internal/common/aws"
	"apns-workers/internal/common/camunda"
	"apns-workers/internal/common/config"
	"apns-workers/internal/common/database"
	"apns-workers/internal/common/logger"
	"apns-workers/internal/common/observability"
	"apns-workers/internal/common/validation"
	"apns-workers/internal/tokenstore"
	"apns-workers/pkg/registry"

	fb "apns-workers/internal/workers/push/process-apns-feedback"
	spn "apns-workers/internal/workers/push/send-push-notification"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func fatal(log logger.Logger, msg string, err error) {
	log.Error(msg, map[string]interface{}{"error": err})
	os.Exit(1)
}

// schemaValidator prefers the registry's input schema for taskType.
func schemaValidator(reg *registry.ActivityRegistry, taskType string, log logger.Logger) *validation.Validator {
	if reg == nil {
		return nil
	}
	act, err := reg.Find(taskType)
	if err != nil || len(act.InputSchema) == 0 {
		log.Warn("no registry schema, using built-in", map[string]interface{}{"taskType": taskType})
		return nil
	}
	v, err := validation.NewValidator(act.InputSchema)
	if err != nil {
		fatal(log, "invalid registry schema for "+taskType, err)
	}
	return v
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewStructured(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).Named(cfg.App.Name)

	log.Info("Starting worker manager...", map[string]interface{}{
		"version":         cfg.App.Version,
		"apnsEnvironment": cfg.APNs.Environment,
	})

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		fatal(log, "zeebe client failed after retries", err)
	}
	defer zeebe.Close()
	log.Info("Zeebe client connected successfully", nil)

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(ctx, cfg.Database.Postgres, 5*time.Second)
		return err
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		fatal(log, "postgres failed after retries", err)
	}
	defer pg.Close()

	store := tokenstore.NewPostgresStore(pg.DB)
	if err := store.EnsureSchema(ctx); err != nil {
		fatal(log, "token store schema", err)
	}
	log.Info("PostgreSQL connected successfully", nil)

	// --- Redis ---
	rdb := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		fatal(log, "redis failed after retries", err)
	}
	defer rdb.Close()
	cache := tokenstore.NewRedisCache(rdb.Client, time.Duration(cfg.APNs.InvalidTokenTTL)*time.Second)
	log.Info("Redis connected successfully", nil)

	// --- SNS ---
	var publisher fb.EventPublisher
	if sns := cfg.Integrations.AWS.SNS; sns.Enabled {
		client, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region, sns.TokenInvalidatedTopic)
		if err != nil {
			fatal(log, "sns client", err)
		}
		publisher = client
		log.Info("SNS publishing enabled", map[string]interface{}{"topic": sns.TokenInvalidatedTopic})
	}

	// --- APNs transport ---
	tlsCfg, err := transport.LoadTLSConfig(cfg.APNs.CertFile, cfg.APNs.KeyFile)
	if err != nil {
		fatal(log, "apns certificate", err)
	}
	dial := transport.TLSDialer(tlsCfg, config.GetDuration(cfg.APNs.DialTimeout))
	gateway := transport.NewGateway(cfg.APNs.Gateway(), dial)
	defer gateway.Close()

	reg, err := registry.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		log.Warn("activity registry unavailable", map[string]interface{}{"error": err, "path": cfg.Registry.Path})
		reg = nil
	}

	// --- Workers ---
	var workers []*camunda.Worker

	sendHandler, err := spn.NewHandler(spn.HandlerOptions{
		AppConfig: cfg,
		Sink:      gateway,
		Cache:     cache,
		Store:     store,
		Validator: schemaValidator(reg, spn.TaskType, log),
		Logger:    log,
	})
	if err != nil {
		fatal(log, "failed to create send-push-notification handler", err)
	}
	workers = append(workers, camunda.StartWorker(zeebe.GetClient(), spn.TaskType,
		config.GetWorkerConfig(cfg, spn.TaskType), sendHandler.Handle, obs, log))

	feedbackAddr := cfg.APNs.Feedback()
	feedbackHandler, err := fb.NewHandler(fb.HandlerOptions{
		AppConfig: cfg,
		Open: func(ctx context.Context) (fb.Stream, error) {
			conn, err := transport.OpenFeedback(ctx, feedbackAddr, dial, cfg.APNs.FeedbackReadSize)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		Store:     store,
		Cache:     cache,
		Publisher: publisher,
		Validator: schemaValidator(reg, fb.TaskType, log),
		Logger:    log,
	})
	if err != nil {
		fatal(log, "failed to create process-apns-feedback handler", err)
	}
	workers = append(workers, camunda.StartWorker(zeebe.GetClient(), fb.TaskType,
		config.GetWorkerConfig(cfg, fb.TaskType), feedbackHandler.Handle, obs, log))

	log.Info("Workers registered", map[string]interface{}{
		"gateway":  cfg.APNs.Gateway(),
		"feedback": feedbackAddr,
	})

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		checks := map[string]error{
			"zeebe":    zeebe.HealthCheck(checkCtx),
			"postgres": pg.Ping(checkCtx),
			"redis":    rdb.Ping(checkCtx),
		}
		for _, err := range checks {
			if err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "not_ready", checks)
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready", checks)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("Health/Metrics server listening", map[string]interface{}{"address": cfg.Metrics.Address})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health/Metrics server failed", map[string]interface{}{"error": err})
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutdown signal received, stopping workers...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping health server", map[string]interface{}{"error": err})
	}

	log.Info("Worker manager stopped gracefully", nil)
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]error) {
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if checks != nil {
		details := make(map[string]string, len(checks))
		for name, err := range checks {
			if err != nil {
				details[name] = err.Error()
			} else {
				details[name] = "ok"
			}
		}
		body["checks"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
