// Package storetest holds in-memory stores that honour the same merge, traversal
// and partition contracts as the graph, feed, canonical and queue adapters, with
// fault injection for failure-path tests.
package storetest

import (
	"fmt"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Faults decides which operations of a fake fail.
type Faults struct {
	mu          sync.Mutex
	unavailable bool
	keys        map[string]int
	writes      int
	failWrite   map[int]bool
}

// SetUnavailable makes every operation fail as if the store were unreachable.
func (f *Faults) SetUnavailable(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = down
}

// FailKey fails the next n operations on key. A negative n fails forever.
func (f *Faults) FailKey(key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]int{}
	}
	f.keys[key] = n
}

// FailNthWrite fails the nth write (1-based) counted across all keys.
func (f *Faults) FailNthWrite(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite == nil {
		f.failWrite = map[int]bool{}
	}
	f.failWrite[n] = true
}

func (f *Faults) read(key string) error {
	return f.check(key, false)
}

func (f *Faults) write(key string) error {
	return f.check(key, true)
}

func (f *Faults) check(key string, write bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable {
		return fmt.Errorf("%s: simulated outage: %w", key, models.ErrStoreUnavailable)
	}
	if write {
		f.writes++
		if f.failWrite[f.writes] {
			return fmt.Errorf("write %d (%s): simulated fault: %w", f.writes, key, models.ErrStoreUnavailable)
		}
	}
	if n, ok := f.keys[key]; ok && n != 0 {
		if n > 0 {
			f.keys[key] = n - 1
		}
		return fmt.Errorf("%s: simulated fault: %w", key, models.ErrStoreUnavailable)
	}
	return nil
}
