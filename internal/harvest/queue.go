// Package harvest implements the proactive knowledge acquisition
// worker and its Postgres-backed topic queue.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixwise/fixwise/internal/log"
)

// Queue item states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrQueueEmpty is returned when no pending item exists.
var ErrQueueEmpty = errors.New("harvest queue is empty")

// QueueItem is one row of the harvest queue.
type QueueItem struct {
	ID             uuid.UUID
	Topic          string
	SearchLanguage string
	Category       string
	Priority       int
	Status         string
	Attempts       int
	ErrorMessage   string
	LastAttemptAt  *time.Time
	CreatedAt      time.Time
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// QueueStore persists the harvest queue and the quarantine table.
type QueueStore struct {
	db     querier
	logger log.Logger
}

// NewQueueStore creates a QueueStore backed by pool.
func NewQueueStore(pool *pgxpool.Pool, logger log.Logger) *QueueStore {
	return &QueueStore{db: pool, logger: logger.With("component", "harvest.queue")}
}

const enqueueSQL = `
	INSERT INTO knowledge_harvest_queue (topic, search_language, category, priority)
	VALUES ($1, $2, $3, $4)
	RETURNING id`

// Enqueue adds a topic to the queue and returns its id.
func (q *QueueStore) Enqueue(ctx context.Context, topic, searchLanguage, category string, priority int) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, enqueueSQL, topic, searchLanguage, category, priority).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue topic: %w", err)
	}
	return id, nil
}

const dequeueSQL = `
	UPDATE knowledge_harvest_queue
	SET status = 'processing', attempts = attempts + 1, last_attempt_at = now()
	WHERE id = (
		SELECT id FROM knowledge_harvest_queue
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, topic, search_language, category, priority, status,
		attempts, COALESCE(error_message, ''), last_attempt_at, created_at`

// Dequeue claims the highest-priority pending item, marking it
// processing and counting the attempt in one statement. SKIP LOCKED
// keeps concurrent harvesters off the same item.
func (q *QueueStore) Dequeue(ctx context.Context) (*QueueItem, error) {
	var item QueueItem
	err := q.db.QueryRow(ctx, dequeueSQL).Scan(
		&item.ID, &item.Topic, &item.SearchLanguage, &item.Category,
		&item.Priority, &item.Status, &item.Attempts, &item.ErrorMessage,
		&item.LastAttemptAt, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return &item, nil
}

const markCompletedSQL = `
	UPDATE knowledge_harvest_queue
	SET status = 'completed', error_message = NULL
	WHERE id = $1`

// MarkCompleted finishes an item successfully.
func (q *QueueStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, markCompletedSQL, id); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

const requeueSQL = `
	UPDATE knowledge_harvest_queue
	SET status = 'pending', error_message = $2
	WHERE id = $1`

// Requeue puts a failed item back to pending for another attempt. The
// attempt counter stays as is; it only grows on dequeue.
func (q *QueueStore) Requeue(ctx context.Context, id uuid.UUID, errMsg string) error {
	if _, err := q.db.Exec(ctx, requeueSQL, id, errMsg); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

const markFailedSQL = `
	UPDATE knowledge_harvest_queue
	SET status = 'failed', error_message = $2
	WHERE id = $1`

// MarkFailed retires an item whose retry budget is exhausted.
func (q *QueueStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if _, err := q.db.Exec(ctx, markFailedSQL, id, errMsg); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

const quarantineSQL = `
	INSERT INTO failed_topics (topic, error_code, error_message, retry_count, status)
	VALUES ($1, $2, $3, $4, 'failed')`

// Quarantine records a permanently failed topic for later inspection.
func (q *QueueStore) Quarantine(ctx context.Context, topic, errorCode, errMsg string, retryCount int) error {
	if _, err := q.db.Exec(ctx, quarantineSQL, topic, errorCode, errMsg, retryCount); err != nil {
		return fmt.Errorf("quarantine topic: %w", err)
	}
	q.logger.Warn("topic quarantined", "topic", topic, "error_code", errorCode)
	return nil
}

const pendingCountSQL = `
	SELECT count(*) FROM knowledge_harvest_queue WHERE status = 'pending'`

// PendingCount reports how many items wait in the queue.
func (q *QueueStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, pendingCountSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}
