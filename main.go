package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/anomaly"
	"github.com/opsdeck/shieldcore/apikey"
	"github.com/opsdeck/shieldcore/audit"
	"github.com/opsdeck/shieldcore/bruteforce"
	"github.com/opsdeck/shieldcore/config"
	"github.com/opsdeck/shieldcore/database"
	"github.com/opsdeck/shieldcore/handlers"
	"github.com/opsdeck/shieldcore/logger"
	"github.com/opsdeck/shieldcore/metrics"
	"github.com/opsdeck/shieldcore/middleware"
	"github.com/opsdeck/shieldcore/proxy"
	"github.com/opsdeck/shieldcore/ratelimit"
	"github.com/opsdeck/shieldcore/repository"
	"github.com/opsdeck/shieldcore/reputation"
	"github.com/opsdeck/shieldcore/score"
	"github.com/opsdeck/shieldcore/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		ServiceName: "shieldcore",
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connection failed", zap.Error(err))
	}
	if err := db.InitSchema(); err != nil {
		log.Fatal("schema initialization failed", zap.Error(err))
	}
	defer db.Close()

	kv := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err := kv.Ping(context.Background()); err != nil {
		// Checks fail open against an unreachable store, so this is a
		// degraded start, not a fatal one.
		log.Warn("redis connection failed, defense checks will fail open", zap.Error(err))
	}
	defer kv.Close()

	var sink audit.Sink
	var kafkaSink *audit.KafkaSink
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		kafkaSink = audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		sink = kafkaSink
		defer kafkaSink.Close()
	} else {
		sink = audit.NewLogSink(log)
	}

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	if kafkaSink != nil {
		consumer := audit.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic,
			"shieldcore-auditors", &audit.LogHandler{Log: log}, log)
		consumer.Start(consumerCtx)
		defer consumer.Close()
	}

	keyRepo := repository.NewAPIKeyRepository(db.Conn())
	workspaceRepo := repository.NewWorkspaceRepository(db.Conn())

	limiter := ratelimit.New(kv, log)
	guard := bruteforce.New(kv, bruteforce.Config{
		MaxAttempts:   cfg.BruteForceMaxAttempts,
		WindowSeconds: cfg.BruteForceWindowSecs,
		BlockSeconds:  cfg.BruteForceBlockSecs,
	}, log)
	tracker := reputation.New(kv, sink, log)
	detector := anomaly.New(kv, sink, log)
	authority := apikey.New(keyRepo, kv, log)
	calculator := score.New(workspaceRepo, keyRepo, detector)

	m := metrics.New()

	loggingMiddleware := middleware.NewLoggingMiddleware(log)
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, authority)
	defenseMiddleware := middleware.NewDefenseMiddleware(
		limiter, guard, tracker, detector, sink, m, log)

	adminHandler := handlers.NewAdminHandler(tracker, guard, detector, authority, calculator, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", adminHandler.HealthCheck)
	mux.Handle("/metrics", m.Handler())

	mux.HandleFunc("/admin/ip-reputation", adminHandler.GetIPReputation)
	mux.HandleFunc("/admin/block-ip", postOnly(adminHandler.BlockIP))
	mux.HandleFunc("/admin/unblock-ip", postOnly(adminHandler.UnblockIP))
	mux.HandleFunc("/admin/unlock", postOnly(adminHandler.Unlock))
	mux.HandleFunc("/admin/suspicious-activities", adminHandler.GetSuspiciousActivities)
	mux.HandleFunc("/admin/anomaly-scan", postOnly(adminHandler.ScanAnomalies))
	mux.HandleFunc("/admin/security-score", adminHandler.GetSecurityScore)

	mux.HandleFunc("/admin/api-keys", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			adminHandler.ListAPIKeys(w, r)
		case http.MethodPost:
			adminHandler.CreateAPIKey(w, r)
		default:
			http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/admin/api-keys/revoke", postOnly(adminHandler.RevokeAPIKey))
	mux.HandleFunc("/admin/api-keys/regenerate", postOnly(adminHandler.RegenerateAPIKey))

	reverseProxy, err := proxy.NewReverseProxy(cfg.BackendURL, log)
	if err != nil {
		log.Warn("failed to create reverse proxy", zap.Error(err))
	}
	if reverseProxy != nil {
		mux.Handle("/api/", reverseProxy)
	} else {
		mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"message": "defense core is running", "path": "` + r.URL.Path + `"}`))
		})
	}

	var handler http.Handler = mux
	handler = middleware.CORS(handler)
	handler = defenseMiddleware.Defend(handler)
	handler = authMiddleware.OptionalAuth(handler)
	handler = loggingMiddleware.Log(handler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting defense core", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
