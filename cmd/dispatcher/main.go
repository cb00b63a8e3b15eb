// cmd/dispatcher/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"push-dispatch/internal/alert"
	"push-dispatch/internal/audit"
	"push-dispatch/internal/common/config"
	"push-dispatch/internal/common/database"
	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/common/observability"
	"push-dispatch/internal/dispatch"
	"push-dispatch/internal/gateway"
	"push-dispatch/internal/models"
	"push-dispatch/internal/queue"
	"push-dispatch/internal/reconcile"
	"push-dispatch/internal/registry"
	pushsend "push-dispatch/internal/workers/push-send"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting push dispatcher...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("push-dispatcher")
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Core wiring ---
	store := registry.NewStore(pg.DB, log)
	reconciler := reconcile.New(store, log)

	gw, err := buildGateway(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("gateway init failed", zap.Error(err))
	}
	zapLog.Info("Push gateway initialized", zap.String("provider", gw.Name()))

	var auditSink pushsend.AuditSink
	if cfg.Audit.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		auditSink = audit.NewRecorder(esClient.Client, cfg.Database.Elasticsearch.Index, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	jobQueue := queue.New(rdb.Client, cfg.Queue.Name, queue.Options{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BackoffBase:    config.GetDuration(cfg.Queue.BackoffBase),
		RetainedFailed: cfg.Queue.RetainedFailed,
		GracePeriod:    config.GetDuration(cfg.Queue.ShutdownGracePeriod),
	}, log)

	if cfg.Alerts.Enabled {
		mailer, err := alert.NewMailer(ctx, cfg.Alerts.AWSRegion, cfg.Alerts.FromEmail, cfg.Alerts.ToEmail, log)
		if err != nil {
			zapLog.Fatal("alert mailer init failed", zap.Error(err))
		}
		jobQueue.OnDeadLetter(mailer.NotifyDeadLetter)
		zapLog.Info("Dead-letter alerting enabled", zap.String("to", cfg.Alerts.ToEmail))
	}

	handler := pushsend.NewHandler(
		&pushsend.Config{
			BatchSize:       cfg.Queue.BatchSize,
			SendConcurrency: int64(cfg.Queue.SendConcurrency),
			GatewayTimeout:  config.GetDuration(cfg.Gateway.Timeout),
		},
		gw, reconciler, auditSink, log,
	)

	orchestrator := dispatch.NewOrchestrator(store, jobQueue, dispatch.Config{
		FallbackLocale: cfg.Dispatch.FallbackLocale,
		DedupeTokens:   cfg.Dispatch.DedupeTokens,
	}, log)

	// --- Worker pool ---
	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		if err := jobQueue.Consume(ctx, handler.Handle, cfg.Queue.WorkerConcurrency); err != nil {
			zapLog.Error("queue consumer stopped with error", zap.Error(err))
		}
	}()
	zapLog.Info("Worker pool started",
		zap.String("queue", cfg.Queue.Name),
		zap.Int("concurrency", cfg.Queue.WorkerConcurrency),
	)

	// --- HTTP server: dispatch entry point, registry upsert, health, metrics ---
	httpAddr := cfg.App.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	mux := http.NewServeMux()
	registerRoutes(mux, orchestrator, store, jobQueue, log)
	server := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", httpAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Queue.ShutdownGracePeriod))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Consume drains in-flight jobs within its own grace period.
	<-consumeDone

	zapLog.Info("Push dispatcher stopped gracefully")
}

func buildGateway(ctx context.Context, cfg *config.Config, log logger.Logger) (gateway.Client, error) {
	switch cfg.Gateway.Provider {
	case "sns":
		return gateway.NewSNSClient(ctx, cfg.Gateway.SNS.Region, log)
	default:
		return gateway.NewFCMClient(gateway.FCMConfig{
			Endpoint:       cfg.Gateway.FCM.Endpoint,
			ServerKey:      cfg.Gateway.FCM.ServerKey,
			Timeout:        config.GetDuration(cfg.Gateway.Timeout),
			RequestsPerSec: cfg.Gateway.FCM.RequestsPerSec,
		}, log), nil
	}
}

type dispatchRequest struct {
	Tags           []string                        `json:"tags"`
	LocalesContent map[string]models.LocaleContent `json:"localesContent"`
	Data           map[string]string               `json:"data,omitempty"`
}

type patchTagsRequest struct {
	Token  string   `json:"token"`
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func registerRoutes(mux *http.ServeMux, orch *dispatch.Orchestrator, store *registry.Store, jobQueue *queue.Queue, log logger.Logger) {
	mux.HandleFunc("/dispatch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.NewValidationError("request body is not valid JSON"))
			return
		}
		result, err := orch.Dispatch(r.Context(), req.Tags, req.LocalesContent, req.Data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			var rec models.DeviceRecord
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
				writeError(w, errors.NewValidationError("request body is not valid JSON"))
				return
			}
			if err := store.UpsertByToken(r.Context(), rec); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
		case http.MethodPatch:
			var req patchTagsRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, errors.NewValidationError("request body is not valid JSON"))
				return
			}
			if err := store.PatchTags(r.Context(), req.Token, req.Add, req.Remove); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		depth, err := jobQueue.Depth(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "degraded",
				"time":   time.Now().Format(time.RFC3339),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
			"queue":  depth,
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	std := errors.Normalize(err)
	status := http.StatusInternalServerError
	if std.Code == errors.ErrCodeValidationFailed {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]interface{}{
		"error":   std.Code,
		"message": std.Message,
		"details": std.Details,
	})
}
