package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ayurflow/workflow/internal/config"
	"github.com/ayurflow/workflow/internal/domain/appointment"
	"github.com/ayurflow/workflow/internal/domain/reminder"
	"github.com/ayurflow/workflow/internal/domain/treatmentplan"
	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/internal/platform/db"
	"github.com/ayurflow/workflow/internal/platform/middleware"
	"github.com/ayurflow/workflow/internal/platform/notification"
	"github.com/ayurflow/workflow/internal/platform/telemetry"
	"github.com/ayurflow/workflow/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "workflow-server",
		Short: "Panchakarma clinical workflow API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(remindersCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationsFS returns the embedded migrations unless dir names a directory on disk.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			if err := db.ValidateSchema(schema); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			if err := db.ValidateSchema(schema); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Reminder delivery",
	}

	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver due reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg.Env, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			a, err := newApp(cfg, pool, telemetry.NewMetrics(), logger)
			if err != nil {
				return err
			}
			if once {
				stats, err := a.dispatcher.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Due: %d, delivered: %d, failed: %d\n", stats.Due, stats.Delivered, stats.Failed)
				return nil
			}
			if err := a.dispatcher.Run(ctx, cfg.DispatchInterval); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	dispatchCmd.Flags().Bool("once", false, "Deliver one batch and exit")
	cmd.AddCommand(dispatchCmd)

	return cmd
}

// newLogger writes JSON, or a console format in development.
func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// app holds the wired services behind the HTTP API and the dispatcher.
type app struct {
	appointments *appointment.Service
	plans        *treatmentplan.Service
	reminders    *reminder.Service
	dispatcher   *notification.Dispatcher
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.ClinicLocation()
	if err != nil {
		return nil, err
	}
	tx := db.NewTransactor(pool)

	apptSvc := appointment.NewService(appointment.NewRepoPG(pool), appointment.NewVisitRepoPG(pool), tx, metrics, logger)
	remSvc := reminder.NewService(reminder.NewRepoPG(pool), loc, cfg.ReminderHour, metrics, logger)
	planSvc := treatmentplan.NewService(
		treatmentplan.NewPlanRepoPG(pool),
		treatmentplan.NewProgressLogRepoPG(pool),
		treatmentplan.NewVitalsPG(pool),
		remSvc,
		tx, loc, metrics, logger,
	)

	dispatcher := notification.NewDispatcher(
		reminder.NewDeliverySource(remSvc),
		notification.NewContactsPG(pool),
		buildSenders(cfg, logger),
		notification.DispatcherConfig{Batch: cfg.DispatchBatch, Location: loc},
		metrics, logger,
	)

	return &app{
		appointments: apptSvc,
		plans:        planSvc,
		reminders:    remSvc,
		dispatcher:   dispatcher,
	}, nil
}

// buildSenders returns the configured delivery channels. The log channel is
// used when nothing else is configured so reminders still leave the queue.
func buildSenders(cfg *config.Config, logger zerolog.Logger) []notification.Sender {
	var senders []notification.Sender
	if cfg.SMTPHost != "" {
		senders = append(senders, notification.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom))
	}
	if cfg.ExpoPushEnabled {
		senders = append(senders, notification.NewPushSender())
	}
	if len(senders) == 0 {
		senders = append(senders, notification.NewLogSender(logger))
	}
	return senders
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, a *app, metrics *telemetry.Metrics, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader,
			auth.HeaderActorID, auth.HeaderActorRole},
	}))
	e.Use(middleware.BodyLimit("1M"))

	// Health and metrics stay outside auth.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	appointment.NewHandler(a.appointments).RegisterRoutes(apiV1)
	treatmentplan.NewHandler(a.plans).RegisterRoutes(apiV1)
	reminder.NewHandler(a.reminders).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = newLogger(cfg.Env, cfg.LogLevel)

	// Database
	ctx := context.Background()
	pool, err := connect(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewMetrics()
	a, err := newApp(cfg, pool, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}
	e := newServer(cfg, pool, a, metrics, logger)

	// Reminder delivery
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	if cfg.DispatchEnabled {
		go func() {
			_ = a.dispatcher.Run(dispatchCtx, cfg.DispatchInterval)
		}()
		logger.Info().Dur("interval", cfg.DispatchInterval).Msg("reminder dispatcher started")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopDispatch()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
