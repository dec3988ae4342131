package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ayushsetu/ayushsetu/internal/config"
	"github.com/ayushsetu/ayushsetu/internal/domain/audit"
	"github.com/ayushsetu/ayushsetu/internal/domain/exchange"
	"github.com/ayushsetu/ayushsetu/internal/domain/icd11"
	"github.com/ayushsetu/ayushsetu/internal/domain/mapping"
	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
	"github.com/ayushsetu/ayushsetu/internal/platform/auth"
	"github.com/ayushsetu/ayushsetu/internal/platform/cache"
	"github.com/ayushsetu/ayushsetu/internal/platform/db"
	"github.com/ayushsetu/ayushsetu/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "setu-server",
		Short: "AyushSetu terminology bridge server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(generateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the terminology API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool, "migrations").Up(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Msg("migrations complete")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, "migrations").Status(ctx)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Printf("%04d %-40s %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	})

	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync the ICD-11 TM2 snapshot from the WHO API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			redisCache, err := cache.New(cfg.RedisURL)
			if err != nil {
				logger.Warn().Err(err).Msg("redis unavailable, tokens will not be cached")
				redisCache = nil
			} else {
				defer redisCache.Close()
			}

			client := icd11.NewClient(icd11.ClientConfig{
				BaseURL:      cfg.ICD11BaseURL,
				TokenURL:     cfg.ICD11TokenURL,
				ClientID:     cfg.ICD11ClientID,
				ClientSecret: cfg.ICD11Secret,
				RootEntity:   cfg.ICD11RootEntity,
			}, redisCache, logger)

			// The vocabulary service sits between the synchronizer and the
			// store so a snapshot replace also drops memoized lookups.
			vocabSvc := vocabulary.NewService(vocabulary.NewRepoPG(pool), redisCache, cfg.CacheTTL(), logger)
			svc := icd11.NewService(client, vocabSvc, cfg.SyncWorkers, logger)

			report, err := svc.Sync(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("codes_fetched", report.CodesFetched).
				Int("skipped", report.Skipped).
				Msg("sync finished")
			return nil
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		threshold    float64
		sourceSystem string
		targetSystem string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate terminology mapping candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			vocabSvc := vocabulary.NewService(vocabulary.NewRepoPG(pool), nil, 0, logger)
			mappingSvc := mapping.NewService(mapping.NewRepoPG(pool), vocabSvc, logger)

			report, err := mappingSvc.GenerateMappings(ctx, sourceSystem, targetSystem, threshold)
			if err != nil {
				return err
			}
			logger.Info().
				Int("candidates", report.Candidates).
				Int("inserted", report.Inserted).
				Int("duplicates", report.Duplicates).
				Msg("generation finished")
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", mapping.DefaultThreshold, "minimum similarity score")
	cmd.Flags().StringVar(&sourceSystem, "source", vocabulary.SystemNAMASTE, "source vocabulary system")
	cmd.Flags().StringVar(&targetSystem, "target", vocabulary.SystemICD11TM2, "target vocabulary system")
	return cmd
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, running without cache")
		redisCache = nil
	} else {
		defer redisCache.Close()
		logger.Info().Msg("connected to redis")
	}

	// Domain services
	vocabRepo := vocabulary.NewRepoPG(pool)
	vocabSvc := vocabulary.NewService(vocabRepo, redisCache, cfg.CacheTTL(), logger)

	mappingSvc := mapping.NewService(mapping.NewRepoPG(pool), vocabSvc, logger)

	icdClient := icd11.NewClient(icd11.ClientConfig{
		BaseURL:      cfg.ICD11BaseURL,
		TokenURL:     cfg.ICD11TokenURL,
		ClientID:     cfg.ICD11ClientID,
		ClientSecret: cfg.ICD11Secret,
		RootEntity:   cfg.ICD11RootEntity,
	}, redisCache, logger)
	icdSvc := icd11.NewService(icdClient, vocabSvc, cfg.SyncWorkers, logger)

	emitter := exchange.NewEmitter(vocabSvc, mappingSvc)
	auditRecorder := audit.NewRecorder(pool, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevMiddleware())
	} else {
		e.Use(auth.Middleware(cfg.JWTSecret))
	}
	e.Use(middleware.Audit(logger, auditRecorder))

	var cachePinger db.Pinger
	if redisCache != nil {
		cachePinger = redisCache
	}
	e.GET("/healthz", db.HealthHandler(pool, cachePinger))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})

	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	vocabulary.NewHandler(vocabSvc).RegisterRoutes(apiV1)
	mapping.NewHandler(mappingSvc).RegisterRoutes(apiV1)
	icd11.NewHandler(icdSvc).RegisterRoutes(apiV1)
	audit.NewHandler(auditRecorder).RegisterRoutes(apiV1)
	exchange.NewHandler(emitter).RegisterRoutes(fhirGroup)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()
	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}
