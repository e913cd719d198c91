package forecast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemorySlots_SecondAcquireRejected(t *testing.T) {
	slots := NewMemorySlots(time.Minute)
	ctx := context.Background()

	lease, err := slots.Acquire(ctx, "b1|Revenue|account:1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := slots.Acquire(ctx, "b1|Revenue|account:1"); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}

	// different entity is unaffected
	if _, err := slots.Acquire(ctx, "b1|Revenue|account:2"); err != nil {
		t.Fatalf("independent slot rejected: %v", err)
	}

	lease.Release(ctx)
	if _, err := slots.Acquire(ctx, "b1|Revenue|account:1"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestMemorySlots_ConcurrentAcquireExactlyOneWinner(t *testing.T) {
	slots := NewMemorySlots(time.Minute)
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := slots.Acquire(ctx, "b1|Sales|product:1:customer:2"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMemorySlots_ReleaseExpiredFreesStaleHolders(t *testing.T) {
	slots := NewMemorySlots(10 * time.Millisecond)
	ctx := context.Background()

	if _, err := slots.Acquire(ctx, "b1|Cashflow|account:9"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	freed := slots.ReleaseExpired(ctx)
	if len(freed) != 1 || freed[0] != "b1|Cashflow|account:9" {
		t.Fatalf("unexpected freed keys: %v", freed)
	}
	if _, err := slots.Acquire(ctx, "b1|Cashflow|account:9"); err != nil {
		t.Fatalf("slot still blocked after reap: %v", err)
	}
}

func TestMemorySlots_StaleHolderReclaimedOnAcquire(t *testing.T) {
	slots := NewMemorySlots(10 * time.Millisecond)
	ctx := context.Background()

	if _, err := slots.Acquire(ctx, "b1|Inventory|product:1:warehouse:1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	// acquire does not need to wait for the reaper
	if _, err := slots.Acquire(ctx, "b1|Inventory|product:1:warehouse:1"); err != nil {
		t.Fatalf("stale slot not reclaimed: %v", err)
	}
}

func TestMemorySlots_LateReleaseDoesNotFreeReclaimedSlot(t *testing.T) {
	slots := NewMemorySlots(10 * time.Millisecond)
	ctx := context.Background()
	key := "b1|Revenue|account:5"

	stale, err := slots.Acquire(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	current, err := slots.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("stale slot not reclaimed: %v", err)
	}

	// the overrun holder finishes late; its release must not drop the
	// reclaimer's slot
	stale.Release(ctx)
	if _, err := slots.Acquire(ctx, key); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("reclaimed slot was freed by a stale release: %v", err)
	}

	current.Release(ctx)
	if _, err := slots.Acquire(ctx, key); err != nil {
		t.Fatalf("acquire after owner release failed: %v", err)
	}
}

func TestMemorySlots_DoubleReleaseHarmless(t *testing.T) {
	slots := NewMemorySlots(time.Minute)
	ctx := context.Background()

	lease, err := slots.Acquire(ctx, "b1|Expense|account:2")
	if err != nil {
		t.Fatal(err)
	}
	lease.Release(ctx)
	lease.Release(ctx)

	next, err := slots.Acquire(ctx, "b1|Expense|account:2")
	if err != nil {
		t.Fatalf("acquire after double release failed: %v", err)
	}
	lease.Release(ctx)
	if _, err := slots.Acquire(ctx, "b1|Expense|account:2"); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("old lease released the new holder: %v", err)
	}
	next.Release(ctx)
}
