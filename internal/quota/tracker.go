package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pulsewire/harvester/internal/globaltime"
)

// ErrExhausted reports that a provider's daily request ceiling is reached.
var ErrExhausted = errors.New("daily request quota exhausted")

// Tracker counts requests issued per provider per UTC day and gates new calls
// once the configured ceiling is reached. It is shared across concurrent jobs;
// every check-and-increment happens under one lock so a ceiling can never be
// exceeded by racing collectors.
type Tracker struct {
	mu       sync.Mutex
	ceilings map[string]int
	counters map[string]counter
}

type counter struct {
	day   string
	count int
}

// Usage is a point-in-time snapshot of one provider's counter.
type Usage struct {
	Provider string `json:"provider"`
	Day      string `json:"day"`
	Used     int    `json:"used"`
	Ceiling  int    `json:"ceiling"`
}

func NewTracker(ceilings map[string]int) *Tracker {
	owned := make(map[string]int, len(ceilings))
	for provider, ceiling := range ceilings {
		owned[provider] = ceiling
	}
	return &Tracker{
		ceilings: owned,
		counters: make(map[string]counter),
	}
}

// Acquire atomically checks the provider's remaining quota for the current
// UTC day and increments the counter. It returns ErrExhausted without
// incrementing when the ceiling is already reached.
func (t *Tracker) Acquire(provider string) error {
	if t == nil {
		return fmt.Errorf("quota tracker is nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ceiling, known := t.ceilings[provider]
	if !known {
		return fmt.Errorf("provider %q has no configured quota", provider)
	}

	day := currentDay()
	current := t.counters[provider]
	if current.day != day {
		current = counter{day: day}
	}
	if current.count >= ceiling {
		t.counters[provider] = current
		return fmt.Errorf("provider %s: %w (ceiling %d)", provider, ErrExhausted, ceiling)
	}

	current.count++
	t.counters[provider] = current
	return nil
}

// Remaining reports how many calls the provider may still make today.
func (t *Tracker) Remaining(provider string) int {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ceiling, known := t.ceilings[provider]
	if !known {
		return 0
	}
	current := t.counters[provider]
	if current.day != currentDay() {
		return ceiling
	}
	remaining := ceiling - current.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot reports current usage for every configured provider.
func (t *Tracker) Snapshot() []Usage {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	day := currentDay()
	usages := make([]Usage, 0, len(t.ceilings))
	for provider, ceiling := range t.ceilings {
		current := t.counters[provider]
		used := 0
		if current.day == day {
			used = current.count
		}
		usages = append(usages, Usage{
			Provider: provider,
			Day:      day,
			Used:     used,
			Ceiling:  ceiling,
		})
	}
	return usages
}

func currentDay() string {
	return globaltime.UTC().Format(time.DateOnly)
}
