package repository

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	insertEventQuery = `
        INSERT INTO workflow_events (session_id, user_id, flow, operation, status, stage, error, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	listEventsBySessionQuery = `
        SELECT id, session_id, user_id, flow, operation, status, stage, error, duration_ms, created_at
        FROM workflow_events
        WHERE session_id = $1
        ORDER BY created_at, id
    `
)

// Compile-time check
var _ EventRepository = (*pgEventRepository)(nil)

type pgEventRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgEventRepository создает репозиторий журнала поверх пула или транзакции.
func NewPgEventRepository(db DBTX, logger *zap.Logger) EventRepository {
	return &pgEventRepository{
		db:     db,
		logger: logger.Named("EventRepo"),
	}
}

func (r *pgEventRepository) Record(ctx context.Context, e Event) error {
	_, err := r.db.Exec(ctx, insertEventQuery,
		e.SessionID, e.UserID, e.Flow, e.Operation, e.Status, e.Stage, e.Error, e.DurationMs)
	if err != nil {
		r.logger.Error("Error inserting workflow event", zap.Stringer("sessionID", e.SessionID), zap.Error(err))
		return fmt.Errorf("failed to insert workflow event: %w", err)
	}
	return nil
}

func (r *pgEventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Event, error) {
	events := make([]Event, 0)
	if err := pgxscan.Select(ctx, r.db, &events, listEventsBySessionQuery, sessionID); err != nil {
		r.logger.Error("Error listing workflow events", zap.Stringer("sessionID", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow events for session %s: %w", sessionID, err)
	}
	return events, nil
}
