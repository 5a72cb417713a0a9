package harvest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fixwise/fixwise/internal/harvest"
	"github.com/fixwise/fixwise/internal/testutil"
)

func TestQueueLifecycle(t *testing.T) {
	tc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	queue := harvest.NewQueueStore(tc.Pool, testutil.QuietLogger())

	if _, err := queue.Dequeue(ctx); !errors.Is(err, harvest.ErrQueueEmpty) {
		t.Fatalf("dequeue on empty queue: %v", err)
	}

	lowID, err := queue.Enqueue(ctx, "Bremsen quietschen", "de", "bremsen", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(ctx, "P0420 OBD2 diagnostic trouble code", "en", "fehlercode", 8); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	n, err := queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 2 {
		t.Errorf("pending = %d", n)
	}

	// Higher priority first.
	item, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if item.Topic != "P0420 OBD2 diagnostic trouble code" {
		t.Errorf("dequeued %q, want highest priority", item.Topic)
	}
	if item.Status != harvest.StatusProcessing {
		t.Errorf("status = %q", item.Status)
	}
	if item.Attempts != 1 {
		t.Errorf("attempts = %d", item.Attempts)
	}
	if item.LastAttemptAt == nil {
		t.Error("last_attempt_at not set")
	}

	if err := queue.Requeue(ctx, item.ID, "transient failure"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	again, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after requeue: %v", err)
	}
	if again.ID != item.ID {
		t.Errorf("requeued item not dequeued first")
	}
	if again.Attempts != 2 {
		t.Errorf("attempts = %d, want incremented on dequeue only", again.Attempts)
	}
	if again.ErrorMessage != "transient failure" {
		t.Errorf("error message = %q", again.ErrorMessage)
	}

	if err := queue.MarkCompleted(ctx, again.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	low, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue low: %v", err)
	}
	if low.ID != lowID {
		t.Errorf("unexpected item %q", low.Topic)
	}
	if err := queue.MarkFailed(ctx, low.ID, "permanent"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := queue.Quarantine(ctx, low.Topic, "500", "permanent", 3); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	var count int
	if err := tc.Pool.QueryRow(ctx, `SELECT count(*) FROM failed_topics WHERE topic = $1`, low.Topic).Scan(&count); err != nil {
		t.Fatalf("count failed_topics: %v", err)
	}
	if count != 1 {
		t.Errorf("failed_topics rows = %d, want exactly 1", count)
	}

	if _, err := queue.Dequeue(ctx); !errors.Is(err, harvest.ErrQueueEmpty) {
		t.Errorf("queue should be drained, got %v", err)
	}
}
