package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX - общий интерфейс пула и транзакции pgx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Операции, попадающие в журнал
const (
	OperationGenerate = "generate"
	OperationCommit   = "commit"
)

// Статусы попыток
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusDropped   = "dropped"
)

// Event - одна попытка генерации или сохранения в рамках сессии.
type Event struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  uuid.UUID `db:"session_id" json:"sessionId"`
	UserID     string    `db:"user_id" json:"userId"`
	Flow       string    `db:"flow" json:"flow"`
	Operation  string    `db:"operation" json:"operation"`
	Status     string    `db:"status" json:"status"`
	Stage      string    `db:"stage" json:"stage"`
	Error      *string   `db:"error" json:"error,omitempty"`
	DurationMs int64     `db:"duration_ms" json:"durationMs"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// EventRepository - журнал событий рабочих сессий.
type EventRepository interface {
	Record(ctx context.Context, e Event) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Event, error)
}
