package supervisor

import (
	"context"
	"math"
	"time"

	"github.com/localplatform/homeroute/internal/clock"
	"github.com/localplatform/homeroute/internal/events"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
)

// maxRetries returns the retry budget for a priority. Critical has no
// ceiling, it restarts forever.
func maxRetries(p Priority) uint32 {
	switch p {
	case Critical:
		return math.MaxUint32
	case Important:
		return 10
	case Background:
		return 3
	default:
		return 0
	}
}

// backoff returns the delay before the nth restart attempt.
func backoff(p Priority, retry uint32) time.Duration {
	switch p {
	case Critical:
		return time.Duration(retry) * 100 * time.Millisecond
	case Important:
		return time.Duration(retry) * time.Second
	case Background:
		return time.Duration(retry) * 5 * time.Second
	default:
		return 0
	}
}

// resetWindow is how long a service must run before its retry counter is
// reset to zero on its next failure.
const resetWindow = 60 * time.Second

// Supervisor runs Factory functions in a restart loop, recording every
// transition in a Registry and publishing events.TypeServiceState.
type Supervisor struct {
	registry *Registry
	hub      *events.Hub
	clk      clock.Clock
	log      *logging.Logger
	sleep    func(ctx context.Context, d time.Duration)
	metrics  *metrics.Registry
}

// New builds a Supervisor backed by registry and hub, using the real clock.
func New(registry *Registry, hub *events.Hub) *Supervisor {
	return &Supervisor{
		registry: registry,
		hub:      hub,
		clk:      &clock.RealClock{},
		log:      logging.WithComponent("supervisor"),
		sleep:    ctxSleep,
		metrics:  metrics.Get(),
	}
}

// WithClock overrides the clock, for deterministic backoff tests.
func (s *Supervisor) WithClock(clk clock.Clock) *Supervisor {
	s.clk = clk
	return s
}

// WithSleep overrides the backoff wait function, so tests don't block in
// real time for multi-second backoffs.
func (s *Supervisor) WithSleep(sleep func(ctx context.Context, d time.Duration)) *Supervisor {
	s.sleep = sleep
	return s
}

func ctxSleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Run starts name under supervision and blocks until the service gives up
// (exceeds its priority's retry budget), exits cleanly, or ctx is
// cancelled. Callers typically invoke it in its own goroutine per
// service.
func (s *Supervisor) Run(ctx context.Context, name string, priority Priority, factory Factory) {
	budget := maxRetries(priority)
	var retries uint32
	lastRestart := s.clk.Now()

	for {
		if ctx.Err() != nil {
			s.transition(name, priority, StateStopped, retries, "")
			return
		}

		s.log.Info("starting service", "service", name, "priority", priority.String())
		s.transition(name, priority, StateStarting, retries, "")
		s.registry.set(name, priority, StateRunning, retries, "")

		runStart := s.clk.Now()
		err := runOnce(ctx, factory)

		if err == nil {
			s.log.Info("service exited cleanly", "service", name)
			s.transition(name, priority, StateStopped, retries, "")
			return
		}

		if ctx.Err() != nil {
			s.log.Info("service stopped (context cancelled)", "service", name)
			s.transition(name, priority, StateStopped, retries, "")
			return
		}

		s.log.Error("service failed", "service", name, "error", err)
		s.transition(name, priority, StateFailed, retries, err.Error())

		if s.clk.Since(runStart) >= resetWindow {
			retries = 0
		}
		retries++

		if retries > budget {
			s.log.Error("service exceeded max retries, giving up", "service", name, "max_retries", budget)
			s.transition(name, priority, StateStopped, retries, err.Error())
			return
		}

		delay := backoff(priority, retries)
		s.log.Warn("restarting service after backoff", "service", name, "attempt", retries, "max_retries", budget, "delay", delay)

		s.sleep(ctx, delay)
		if ctx.Err() != nil {
			s.transition(name, priority, StateStopped, retries, "")
			return
		}
		lastRestart = s.clk.Now()
		_ = lastRestart
	}
}

// runOnce invokes factory and recovers from a panic the way the teacher's
// task-join error path does, turning it into a regular error return.
func runOnce(ctx context.Context, factory Factory) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return factory(ctx)
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return "service panicked: " + formatPanic(p.v)
}

func formatPanic(v any) string {
	if e, ok := v.(error); ok {
		return e.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}

var allStates = []State{StateStarting, StateRunning, StateFailed, StateStopped, StateDisabled}

func (s *Supervisor) transition(name string, priority Priority, state State, retries uint32, errMsg string) {
	s.registry.set(name, priority, state, retries, errMsg)

	if state == StateStarting && retries > 0 {
		s.metrics.ServiceRestartsTotal.WithLabelValues(name).Inc()
	}
	for _, st := range allStates {
		v := 0.0
		if st == state {
			v = 1
		}
		s.metrics.ServiceState.WithLabelValues(name, string(st)).Set(v)
	}

	if s.hub != nil {
		s.hub.Publish(events.Event{
			Type: events.TypeServiceState,
			Data: events.ServiceStateData{
				Name:         name,
				State:        string(state),
				RestartCount: retries,
				Error:        errMsg,
			},
		})
	}
}
