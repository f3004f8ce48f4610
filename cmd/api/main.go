package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clinical-occurrences/internal/adapters/auth/jwtlocal"
	"clinical-occurrences/internal/adapters/auth/odin"
	s3blob "clinical-occurrences/internal/adapters/blob/s3"
	"clinical-occurrences/internal/adapters/capabilities/plansfeatures"
	"clinical-occurrences/internal/adapters/notify/webhook"
	redisseq "clinical-occurrences/internal/adapters/sequence/redis"
	pg "clinical-occurrences/internal/adapters/storage/postgres"
	"clinical-occurrences/internal/platform/config"
	"clinical-occurrences/internal/platform/logger"
	"clinical-occurrences/internal/router"
)

// @title Clinical Occurrences API
// @version 1.0
// @description Registro, ciclo de vida y finalización de ocurrencias clínicas de cinco fuentes.
// @BasePath /
func main() {
	log, err := logger.NewFromEnv()
	if err != nil {
		panic(err)
	}

	if err := run(log); err != nil {
		log.Error("api stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

// run arma y sirve la API; los defers cierran conexiones también ante error.
func run(log *zap.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := router.Options{
		NotifyURL:     cfg.NotifyWebhookURL,
		PublicBaseURL: cfg.PublicBaseURL,
		SignedURLTTL:  cfg.SignedURLTTL,
		IdentityTTL:   cfg.IdentityCacheTTL,
		Logger:        log,
	}

	if cfg.DBDSN != "" {
		db, err := pg.Open(cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("postgres unavailable: %w", err)
		}
		defer db.Close()
		if err := pg.Migrate(ctx, db); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		opts.DB = db
	}

	rdb, err := redisseq.NewClient(ctx, redisseq.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		// Sin Redis el protocolo sale de Postgres o de memoria.
		log.Warn("redis unavailable, protocol sequence falls back", zap.Error(err))
	} else if rdb != nil {
		defer rdb.Close()
		opts.Redis = rdb
	}

	if cfg.BlobDriver == config.BlobS3 {
		store, err := s3blob.New(ctx, s3blob.Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			PathStyle:       cfg.S3PathStyle,
		})
		if err != nil {
			return fmt.Errorf("s3 blob store: %w", err)
		}
		opts.Blobs = store
	}

	if cfg.NotifyWebhookURL != "" {
		opts.Notifier = webhook.New(cfg.NotifyTimeout, cfg.NotifyRetries, log.Named("webhook"))
	}

	switch {
	case cfg.JWTSigningKey != "":
		opts.AuthVerifier = jwtlocal.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer)
	case cfg.OdinBaseURL != "":
		client, err := odin.NewClient(odin.Config{BaseURL: cfg.OdinBaseURL, APIKey: cfg.OdinAPIKey})
		if err != nil {
			return fmt.Errorf("odin client: %w", err)
		}
		opts.AuthVerifier = odin.NewVerifier(client, log)
		opts.Identity = client
	default:
		log.Warn("no auth verifier configured, using X-Debug-User-ID headers")
	}

	if cfg.PlansBaseURL != "" || cfg.AllowAllCapabilities {
		var client *plansfeatures.Client
		if cfg.PlansBaseURL != "" {
			client, err = plansfeatures.NewClient(plansfeatures.Config{BaseURL: cfg.PlansBaseURL, APIKey: cfg.PlansAPIKey})
			if err != nil {
				return fmt.Errorf("plans-features client: %w", err)
			}
		}
		opts.Capabilities = plansfeatures.NewResolver(client, cfg.AllowAllCapabilities)
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.NewRouter(opts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", zap.String("addr", cfg.Addr()))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	// Espera el drenaje de requests antes de cerrar db y redis.
	return <-shutdown
}
