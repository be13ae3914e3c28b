package quota

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulsewire/harvester/internal/globaltime"
)

func TestAcquireStopsAtCeiling(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(map[string]int{"newsapi": 2})

	if err := tracker.Acquire("newsapi"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := tracker.Acquire("newsapi"); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	err := tracker.Acquire("newsapi")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if got := tracker.Remaining("newsapi"); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
}

func TestAcquireUnknownProvider(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(map[string]int{"newsapi": 5})
	if err := tracker.Acquire("mystery"); err == nil {
		t.Fatalf("expected error for unconfigured provider")
	}
	if got := tracker.Remaining("mystery"); got != 0 {
		t.Fatalf("expected 0 remaining for unknown provider, got %d", got)
	}
}

func TestConcurrentAcquiresNeverExceedCeiling(t *testing.T) {
	const ceiling = 50
	tracker := NewTracker(map[string]int{"gdelt": ceiling})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < ceiling*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Acquire("gdelt"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != ceiling {
		t.Fatalf("expected exactly %d grants, got %d", ceiling, granted)
	}
}

func TestCounterResetsOnNewUTCDay(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	tracker := NewTracker(map[string]int{"newsapi": 1})
	if err := tracker.Acquire("newsapi"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := tracker.Acquire("newsapi"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhaustion before midnight, got %v", err)
	}

	globaltime.SetMockTime(time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC))
	if err := tracker.Acquire("newsapi"); err != nil {
		t.Fatalf("expected fresh quota after UTC midnight, got %v", err)
	}
}

func TestSnapshotReportsUsage(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(map[string]int{"newsapi": 3, "gdelt": 1})
	if err := tracker.Acquire("newsapi"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	byProvider := map[string]Usage{}
	for _, usage := range tracker.Snapshot() {
		byProvider[usage.Provider] = usage
	}

	if usage := byProvider["newsapi"]; usage.Used != 1 || usage.Ceiling != 3 {
		t.Fatalf("unexpected newsapi usage: %+v", usage)
	}
	if usage := byProvider["gdelt"]; usage.Used != 0 || usage.Ceiling != 1 {
		t.Fatalf("unexpected gdelt usage: %+v", usage)
	}
}
