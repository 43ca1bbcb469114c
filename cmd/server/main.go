package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"devlog-server/internal/backend"
	"devlog-server/internal/checkpoint"
	"devlog-server/internal/commit"
	"devlog-server/internal/config"
	"devlog-server/internal/database"
	deliveryhttp "devlog-server/internal/delivery/http"
	ws "devlog-server/internal/delivery/websocket"
	"devlog-server/internal/domain"
	"devlog-server/internal/filters"
	"devlog-server/internal/gateway"
	"devlog-server/internal/logger"
	"devlog-server/internal/messaging"
	"devlog-server/internal/navigation"
	"devlog-server/internal/repository"
	"devlog-server/internal/workflow"
	"devlog-server/pkg/migration"
	"devlog-server/pkg/taskmanager"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	if err := godotenv.Load(); err != nil {
		// В production .env обычно нет
		fmt.Printf("Warning: could not load .env file: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:           "devlog-server",
		Short:         "Workflow server for AI-assisted diaries and activities",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to YAML config (env overrides it)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Encoding:   cfg.Log.Encoding,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, log, nil
}

func serve(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info("Starting devlog-server", zap.String("transport", cfg.Generation.Transport))

	backendClient, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.DefaultTimeout, cfg.Backend.APIToken, log)
	if err != nil {
		return fmt.Errorf("failed to init backend client: %w", err)
	}

	// --- Генерация: HTTP бэкенд или RPC через RabbitMQ ---
	var transport gateway.Transport = backendClient
	if strings.EqualFold(cfg.Generation.Transport, "amqp") {
		conn, err := messaging.Connect(ctx, cfg.AMQP.URL, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		rpc, err := messaging.NewRPCClient(conn, []string{cfg.AMQP.TitleQueue, cfg.AMQP.ExperienceQueue}, log)
		if err != nil {
			return err
		}
		defer rpc.Close()
		transport = messaging.NewGenerationTransport(rpc, cfg.AMQP.TitleQueue, cfg.AMQP.ExperienceQueue)
	}
	gw := gateway.New(transport, backendClient, gateway.Config{
		TitleTimeout:      cfg.Generation.TitleTimeout,
		ExtractionTimeout: cfg.Generation.ExtractionTimeout,
		KeywordTimeout:    cfg.Backend.DefaultTimeout,
	}, log)

	// --- Фильтры поиска ---
	var store filters.Store = filters.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		store = filters.NewRedisStore(rdb, cfg.Redis.FilterTTL, log)
		log.Info("Search filters stored in Redis", zap.String("addr", cfg.Redis.Addr))
	}
	resetter := filters.NewResetter(store, log)

	// --- Журнал событий ---
	var events repository.EventRepository = repository.NewMemoryEventRepository()
	if cfg.Database.Enabled() {
		pool, err := database.Connect(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := newMigrator(pool, log).Up(ctx); err != nil {
			return err
		}
		events = repository.NewPgEventRepository(pool, log)
	}

	deps := workflow.Deps{
		Generator:  gw,
		Committer:  commit.NewCoordinator(backendClient, resetter, nil, log),
		Activities: backendClient,
		Events:     events,
	}
	if cfg.Checkpoint.Enabled {
		deps.Checkpoints = checkpoint.NewStore(cfg.Checkpoint.Dir, log)
		log.Info("Draft checkpoints enabled", zap.String("dir", cfg.Checkpoint.Dir))
	}

	wsManager := ws.NewManager(cfg.Server.AllowedOrigins, log)
	wsManager.Start(ctx)
	deps.Notifier = wsManager

	sessions := workflow.NewManager(deps, workflow.Config{RetainFor: cfg.Session.RetainFor}, log)
	go sessions.Run(ctx, cfg.Session.CleanupInterval)

	tasks := taskmanager.New(taskmanager.Config{MaxTasks: cfg.Session.MaxTasks}, log)
	tasks.SetNotifier(wsManager)
	go cleanupTasks(ctx, tasks, cfg.Session.CleanupInterval, cfg.Session.RetainFor, log)

	bus := navigation.NewBus(log)
	bus.OnLeave(domain.AreaActivity, resetter.OnLeave)
	bus.OnLeave(domain.AreaDiaryCreate, sessions.OnLeave)
	bus.OnLeave(domain.AreaActivityExtract, sessions.OnLeave)
	wsManager.OnDisconnect(bus.Forget)

	handler := deliveryhttp.NewHandler(sessions, tasks, store, bus, log)
	router := deliveryhttp.NewRouter(deliveryhttp.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebSocket:      wsManager.Handler(),
		Metrics:        true,
	}, handler, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		log.Error("Task manager shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped gracefully")
	return nil
}

func cleanupTasks(ctx context.Context, tasks *taskmanager.TaskManager, interval, age time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tasks.CleanupTasks(age); n > 0 {
				log.Debug("Finished tasks removed", zap.Int("count", n))
			}
		}
	}
}

func newMigrator(pool *pgxpool.Pool, log *zap.Logger) *migration.Migrator {
	return migration.NewMigrator(migration.Config{
		MigrationsPath: database.MigrationsPath,
		MigrationsFS:   database.Migrations,
	}, pool, log)
}

func migrateCmd() *cobra.Command {
	withMigrator := func(run func(ctx context.Context, m *migration.Migrator, log *zap.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if !cfg.Database.Enabled() {
				return errors.New("database is not configured (DB_HOST is empty)")
			}
			pool, err := database.Connect(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			return run(cmd.Context(), newMigrator(pool, log), log)
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the workflow event log schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all migrations",
			RunE: withMigrator(func(ctx context.Context, m *migration.Migrator, _ *zap.Logger) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down [N]",
			Short: "Roll back N migrations (all when N is omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n := 0
				if len(args) == 1 {
					var err error
					if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
						return fmt.Errorf("invalid step count %q", args[0])
					}
				}
				return withMigrator(func(ctx context.Context, m *migration.Migrator, _ *zap.Logger) error {
					if n == 0 {
						return m.Down(ctx)
					}
					return m.Steps(ctx, -n)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withMigrator(func(ctx context.Context, m *migration.Migrator, log *zap.Logger) error {
				version, dirty, err := m.Version(ctx)
				if err != nil {
					return err
				}
				log.Info("Migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
				return nil
			}),
		},
	)
	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yml"
}
