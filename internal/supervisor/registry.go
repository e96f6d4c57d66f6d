package supervisor

import (
	"sort"
	"sync"

	"github.com/localplatform/homeroute/internal/clock"
)

// Status is a point-in-time snapshot of a supervised service.
type Status struct {
	Name              string
	Priority          Priority
	State             State
	RestartCount      uint32
	LastStateChangeMS int64
	Error             string
}

// Registry is the shared, concurrency-safe map of service name to Status
// that spawn loops publish into and callers read through Get and List.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]Status
	clk      clock.Clock
}

// NewRegistry builds an empty registry using the real clock.
func NewRegistry() *Registry {
	return &Registry{statuses: make(map[string]Status), clk: &clock.RealClock{}}
}

// NewRegistryWithClock builds an empty registry using clk, for tests.
func NewRegistryWithClock(clk clock.Clock) *Registry {
	return &Registry{statuses: make(map[string]Status), clk: clk}
}

func (r *Registry) set(name string, priority Priority, state State, retries uint32, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[name] = Status{
		Name:              name,
		Priority:          priority,
		State:             state,
		RestartCount:      retries,
		LastStateChangeMS: r.clk.Now().UnixMilli(),
		Error:             errMsg,
	}
}

// Get returns the status for name, and whether it was found.
func (r *Registry) Get(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[name]
	return s, ok
}

// List returns every known service status, sorted by priority then name:
// Critical first, Important next, Background last.
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
