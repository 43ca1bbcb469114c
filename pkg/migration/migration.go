package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// DefaultTable хранит версию схемы журнала событий workflow.
const DefaultTable = "workflow_schema_migrations"

// Config описывает, откуда брать миграции журнала событий.
type Config struct {
	MigrationsPath string
	MigrationsFS   fs.FS
	Table          string // пусто - DefaultTable
	LockTimeout    time.Duration
}

// Migrator применяет встроенные в бинарник миграции поверх пула pgx.
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewMigrator(config Config, pool *pgxpool.Pool, logger *zap.Logger) *Migrator {
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 30 * time.Second
	}
	return &Migrator{
		config: config,
		pool:   pool,
		logger: logger.Named("Migrator"),
	}
}

// Up вызывается при старте serve: таблица workflow_events должна существовать
// до первой записи события.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mg *migrate.Migrate) error { return mg.Up() })
}

// Down удаляет журнал событий целиком.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mg *migrate.Migrate) error { return mg.Down() })
}

// Steps применяет (n > 0) или откатывает (n < 0) n миграций.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.run(ctx, fmt.Sprintf("steps %d", n), func(mg *migrate.Migrate) error { return mg.Steps(n) })
}

// Version возвращает версию схемы. Пустая база - (0, false, nil).
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.open(ctx)
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()
	return version(mg)
}

func (m *Migrator) run(ctx context.Context, op string, apply func(*migrate.Migrate) error) error {
	mg, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := apply(mg); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate %s: %w", op, err)
		}
		m.logger.Debug("Event log schema unchanged", zap.String("op", op))
	}

	v, dirty, err := version(mg)
	if err != nil {
		return err
	}
	m.logger.Info("Event log schema migrated",
		zap.String("op", op), zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

func (m *Migrator) open(ctx context.Context) (*migrate.Migrate, error) {
	if err := m.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	driver, err := postgres.WithInstance(stdlib.OpenDBFromPool(m.pool), &postgres.Config{
		MigrationsTable: m.config.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}
	source, err := iofs.New(m.config.MigrationsFS, m.config.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("migrations source %q: %w", m.config.MigrationsPath, err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	mg.LockTimeout = m.config.LockTimeout
	return mg, nil
}

func version(mg *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}
