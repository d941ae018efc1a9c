package sched

import (
	"sync"
	"time"

	"github.com/srg/blebridge/internal/radio"
)

// DefaultDebounce is the minimum interval between target-seen alerts.
const DefaultDebounce = time.Minute

// Targets is the configured set of scale addresses watched during scan
// cycles. Match fires at most once per debounce window no matter how many
// target addresses appear in one cycle.
type Targets struct {
	mu        sync.Mutex
	addrs     map[string]struct{}
	lastAlert time.Time
	debounce  time.Duration
}

func NewTargets(debounce time.Duration) *Targets {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Targets{
		addrs:    make(map[string]struct{}),
		debounce: debounce,
	}
}

// Set replaces the watched address set.
func (t *Targets) Set(addrs []string) {
	next := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		next[a] = struct{}{}
	}
	t.mu.Lock()
	t.addrs = next
	t.mu.Unlock()
}

// Empty reports whether no addresses are watched.
func (t *Targets) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.addrs) == 0
}

// Match scans the cycle's results for a watched address. It returns the
// first match and true only when the debounce window has elapsed since the
// previous trigger; a hit updates the debounce timestamp.
func (t *Targets) Match(results []*radio.ScanResult) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.addrs) == 0 {
		return "", false
	}
	if time.Since(t.lastAlert) < t.debounce {
		return "", false
	}
	for _, r := range results {
		if _, ok := t.addrs[r.Address]; ok {
			t.lastAlert = time.Now()
			return r.Address, true
		}
	}
	return "", false
}
