package database

import (
	"context"
	"embed"
	"fmt"

	"devlog-server/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Migrations - SQL миграции журнала событий, встроенные в бинарник.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsPath - каталог миграций внутри Migrations.
const MigrationsPath = "migrations"

// Connect создает пул соединений и проверяет подключение.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout

	logger.Info("Connecting to database", zap.String("host", cfg.Host), zap.String("port", cfg.Port), zap.String("db", cfg.Name))

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("не удалось подключиться к БД (ping failed): %w", err)
	}
	logger.Info("Successfully connected to database")
	return pool, nil
}
