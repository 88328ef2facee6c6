package quota

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteCounterStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestCheckAndIncrement_Atomicity launches N concurrent calls against a
// channel with limit L < N and verifies exactly L are admitted, for any
// interleaving.
func TestCheckAndIncrement_Atomicity(t *testing.T) {
	const limit = 10
	const workers = 50

	ledger := NewLedger(openTestStore(t), []int{1}, limit, nil)

	var allowed, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ledger.CheckAndIncrement(context.Background(), 1).Allowed {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != limit {
		t.Errorf("Allowed: got %d, want exactly %d", allowed.Load(), limit)
	}
	if denied.Load() != workers-limit {
		t.Errorf("Denied: got %d, want %d", denied.Load(), workers-limit)
	}
}

// TestCheckAndIncrement_Boundary walks a channel to its limit and checks
// the first rejected call's reported numbers.
func TestCheckAndIncrement_Boundary(t *testing.T) {
	const limit = 250

	ledger := NewLedger(openTestStore(t), []int{1}, limit, nil)
	ctx := context.Background()

	for i := 1; i <= limit; i++ {
		d := ledger.CheckAndIncrement(ctx, 1)
		if !d.Allowed {
			t.Fatalf("Call %d unexpectedly denied: %+v", i, d)
		}
		if d.Usage != i {
			t.Fatalf("Call %d: usage %d, want %d", i, d.Usage, i)
		}
	}

	d := ledger.CheckAndIncrement(ctx, 1)
	if d.Allowed {
		t.Fatalf("Call %d should be denied: %+v", limit+1, d)
	}
	if d.Usage != limit || d.Remaining != 0 {
		t.Errorf("Rejection: usage=%d remaining=%d, want %d/0", d.Usage, d.Remaining, limit)
	}

	// Rejections never increment.
	again := ledger.CheckAndIncrement(ctx, 1)
	if again.Usage != limit {
		t.Errorf("Usage after repeated rejection: got %d, want %d", again.Usage, limit)
	}
}

func TestCheckAndIncrement_UnlimitedChannel(t *testing.T) {
	ledger := NewLedger(openTestStore(t), []int{1, 2, 5}, 250, nil)

	d := ledger.CheckAndIncrement(context.Background(), 3)
	if !d.Allowed || d.Limit != Unlimited || d.Remaining != Unlimited {
		t.Errorf("Unlimited channel decision: %+v", d)
	}
}

// failingStore simulates an unreachable counter backend.
type failingStore struct{}

func (failingStore) IncrementIfBelow(ctx context.Context, channelID int, day string, limit int) (int, bool, error) {
	return 0, false, errors.New("connection refused")
}

func (failingStore) Usage(ctx context.Context, channelID int, day string) (int, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) Prune(ctx context.Context, beforeDay string) (int64, error) {
	return 0, errors.New("connection refused")
}

// TestCheckAndIncrement_FailOpen verifies the availability-over-strictness
// policy: an unreachable store admits the request.
func TestCheckAndIncrement_FailOpen(t *testing.T) {
	ledger := NewLedger(failingStore{}, []int{1}, 250, nil)

	d := ledger.CheckAndIncrement(context.Background(), 1)
	if !d.Allowed {
		t.Errorf("Ledger must fail open when the store is unreachable: %+v", d)
	}
}

// TestCheckAndIncrement_DayRollover checks that counters key on the
// calendar date, so a new day starts fresh.
func TestCheckAndIncrement_DayRollover(t *testing.T) {
	ledger := NewLedger(openTestStore(t), []int{1}, 2, nil)
	ctx := context.Background()

	day := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return day }

	ledger.CheckAndIncrement(ctx, 1)
	ledger.CheckAndIncrement(ctx, 1)
	if d := ledger.CheckAndIncrement(ctx, 1); d.Allowed {
		t.Fatalf("Third call on the same day should be denied: %+v", d)
	}

	ledger.now = func() time.Time { return day.AddDate(0, 0, 1) }
	if d := ledger.CheckAndIncrement(ctx, 1); !d.Allowed || d.Usage != 1 {
		t.Errorf("First call of the new day: %+v", d)
	}
}

func TestUsage_ReadOnly(t *testing.T) {
	ledger := NewLedger(openTestStore(t), []int{1}, 250, nil)
	ctx := context.Background()

	ledger.CheckAndIncrement(ctx, 1)
	ledger.CheckAndIncrement(ctx, 1)

	d := ledger.Usage(ctx, 1)
	if d.Usage != 2 || d.Remaining != 248 {
		t.Errorf("Usage: %+v", d)
	}

	// Reading twice does not increment.
	if again := ledger.Usage(ctx, 1); again.Usage != 2 {
		t.Errorf("Usage changed on read: %+v", again)
	}
}

func TestPrune_RemovesOldDays(t *testing.T) {
	ledger := NewLedger(openTestStore(t), []int{1}, 250, nil)
	ctx := context.Background()

	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return old }
	ledger.CheckAndIncrement(ctx, 1)

	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }
	ledger.CheckAndIncrement(ctx, 1)

	deleted, err := ledger.Prune(ctx, 30)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Deleted rows: got %d, want 1", deleted)
	}

	// Today's counter survived.
	if d := ledger.Usage(ctx, 1); d.Usage != 1 {
		t.Errorf("Usage after prune: %+v", d)
	}
}
