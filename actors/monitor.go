/*
 * MIT License
 *
 * Copyright (c) 2024-2026 Pulsar Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package actors

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/flowchartsman/retry"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/webpet/pulsar/async"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/log"
)

const (
	// DefaultRespawnAttempts is how many times a monitor tries to bring a dead
	// worker back before escalating.
	DefaultRespawnAttempts = 5

	defaultRespawnInitialDelay = 100 * time.Millisecond
	defaultRespawnMaxDelay     = 2 * time.Second
)

// EscalationHandler is notified when a monitor gives up on keeping its pool
// at strength.
type EscalationHandler func(err error)

// Monitor supervises a pool of identical workers spawned from one definition.
// Dead workers are respawned according to the restart policy; work is spread
// round-robin, and job keys guarantee that two jobs with the same key never
// run at the same time.
type Monitor struct {
	name    string
	arbiter *Arbiter
	def     *Definition
	logger  log.Logger

	policy        RestartPolicy
	minWorkers    int
	maxWorkers    int
	retryAttempts int
	retryInitial  time.Duration
	retryMax      time.Duration
	onEscalation  EscalationHandler
	onWorkerEvent EventHandler

	workerIDs mapset.Set[string]
	jobs      mapset.Set[string]

	mu      sync.RWMutex
	workers []*Handle

	rr       atomic.Uint64
	stopping atomic.Bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithRestartPolicy sets what happens when a worker exits.
func WithRestartPolicy(policy RestartPolicy) MonitorOption {
	return func(m *Monitor) {
		m.policy = policy
	}
}

// WithMinWorkers sets the pool size the monitor maintains.
func WithMinWorkers(n int) MonitorOption {
	return func(m *Monitor) {
		m.minWorkers = n
	}
}

// WithMaxWorkers caps the pool size Scale may reach.
func WithMaxWorkers(n int) MonitorOption {
	return func(m *Monitor) {
		m.maxWorkers = n
	}
}

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(logger log.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithRespawnRetry tunes the respawn backoff.
func WithRespawnRetry(attempts int, initial, max time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.retryAttempts = attempts
		m.retryInitial = initial
		m.retryMax = max
	}
}

// WithEscalationHandler sets the handler invoked when respawning is exhausted.
func WithEscalationHandler(handler EscalationHandler) MonitorOption {
	return func(m *Monitor) {
		m.onEscalation = handler
	}
}

// WithWorkerEventHandler subscribes to the one-way events of every worker in
// the pool, including respawned ones.
func WithWorkerEventHandler(handler EventHandler) MonitorOption {
	return func(m *Monitor) {
		m.onWorkerEvent = handler
	}
}

// NewMonitor creates a Monitor over the given arbiter. The pool is empty
// until Start.
func NewMonitor(arbiter *Arbiter, def *Definition, opts ...MonitorOption) (*Monitor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		name:          def.Name,
		arbiter:       arbiter,
		def:           def,
		logger:        arbiter.logger.With("monitor", def.Name),
		policy:        RestartOnFailure,
		minWorkers:    1,
		retryAttempts: DefaultRespawnAttempts,
		retryInitial:  defaultRespawnInitialDelay,
		retryMax:      defaultRespawnMaxDelay,
		workerIDs:     mapset.NewSet[string](),
		jobs:          mapset.NewSet[string](),
	}
	// arbiter-level respawn settings override the built-ins; per-monitor
	// options still win over both
	if arbiter.respawnAttempts > 0 {
		m.retryAttempts = arbiter.respawnAttempts
	}
	if arbiter.respawnInitial > 0 {
		m.retryInitial = arbiter.respawnInitial
	}
	if arbiter.respawnMax > 0 {
		m.retryMax = arbiter.respawnMax
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxWorkers < m.minWorkers {
		m.maxWorkers = m.minWorkers
	}
	return m, nil
}

// Name returns the monitor name, which is the worker definition's name.
func (m *Monitor) Name() string {
	return m.name
}

// Start spawns the initial pool. Failing any initial spawn fails Start.
func (m *Monitor) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.minWorkers; i++ {
		g.Go(func() error {
			return m.spawnWorker(gctx)
		})
	}
	return g.Wait()
}

// Workers snapshots the current pool.
func (m *Monitor) Workers() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, len(m.workers))
	copy(out, m.workers)
	return out
}

// WorkerCount returns the current pool size.
func (m *Monitor) WorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// ActiveJobs returns the number of job keys currently held.
func (m *Monitor) ActiveJobs() int {
	return m.jobs.Cardinality()
}

// Dispatch sends a command to one worker, round-robin, and returns the
// worker's async result. A non-empty jobKey claims the key for the duration
// of the job; a second dispatch with the same key is refused with a result
// rejected with ErrJobOverlap before anything is sent, and the holder keeps
// its key. The key is released when the returned result settles.
func (m *Monitor) Dispatch(jobKey, command string, args ...any) *async.Result {
	if m.stopping.Load() {
		return async.RejectedResult(m.arbiter.loop, errors.ErrArbiterStopped)
	}
	if jobKey != "" && !m.jobs.Add(jobKey) {
		return async.RejectedResult(m.arbiter.loop, errors.NewErrJobOverlap(jobKey))
	}

	worker, err := m.pickWorker()
	if err != nil {
		if jobKey != "" {
			m.jobs.Remove(jobKey)
		}
		return async.RejectedResult(m.arbiter.loop, err)
	}

	result := worker.Send(command, args...)
	if jobKey == "" {
		return result
	}
	return result.Then(
		func(value any) (any, error) {
			m.jobs.Remove(jobKey)
			return value, nil
		},
		func(err error) (any, error) {
			m.jobs.Remove(jobKey)
			return nil, err
		})
}

// Broadcast sends a one-way event to every worker.
func (m *Monitor) Broadcast(command string, args ...any) {
	for _, worker := range m.Workers() {
		worker.Tell(command, args...)
	}
}

// Scale grows or shrinks the pool to n workers, clamped to the configured
// minimum and maximum.
func (m *Monitor) Scale(ctx context.Context, n int) error {
	if n < m.minWorkers {
		n = m.minWorkers
	}
	if n > m.maxWorkers {
		n = m.maxWorkers
	}

	current := m.WorkerCount()
	if n > current {
		g, gctx := errgroup.WithContext(ctx)
		for i := current; i < n; i++ {
			g.Go(func() error {
				return m.spawnWorker(gctx)
			})
		}
		return g.Wait()
	}

	var g errgroup.Group
	for _, worker := range m.Workers()[n:] {
		worker := worker
		g.Go(func() error {
			return worker.Stop(ctx)
		})
	}
	return g.Wait()
}

// Stop brings the whole pool down. No respawns happen afterwards.
func (m *Monitor) Stop(ctx context.Context) error {
	if !m.stopping.CompareAndSwap(false, true) {
		return nil
	}
	var g errgroup.Group
	for _, worker := range m.Workers() {
		worker := worker
		g.Go(func() error {
			return worker.Stop(ctx)
		})
	}
	return g.Wait()
}

func (m *Monitor) spawnWorker(ctx context.Context) error {
	opts := []SpawnOption{withExitWatcher(m.onWorkerExit)}
	if m.onWorkerEvent != nil {
		opts = append(opts, WithEventHandler(m.onWorkerEvent))
	}
	handle, err := m.arbiter.SpawnSync(ctx, m.def, opts...)
	if err != nil {
		return err
	}
	m.addWorker(handle)
	return nil
}

func (m *Monitor) addWorker(h *Handle) {
	m.mu.Lock()
	m.workers = append(m.workers, h)
	m.mu.Unlock()
	m.workerIDs.Add(h.ID())

	// the worker may have died between the handshake and this registration;
	// replay the exit it reported while it was untracked
	select {
	case <-h.Done():
		m.onWorkerExit(h, h.Err())
	default:
	}
}

func (m *Monitor) removeWorker(id string) {
	m.mu.Lock()
	for i, w := range m.workers {
		if w.ID() == id {
			m.workers = append(m.workers[:i], m.workers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.workerIDs.Remove(id)
}

func (m *Monitor) pickWorker() (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.workers) == 0 {
		return nil, errors.ErrNoWorkers
	}
	return m.workers[int(m.rr.Inc())%len(m.workers)], nil
}

// onWorkerExit runs on the arbiter loop each time a worker leaves the pool.
func (m *Monitor) onWorkerExit(h *Handle, exitErr error) {
	if !m.workerIDs.Contains(h.ID()) {
		// already removed, or never made it past the handshake
		return
	}
	m.removeWorker(h.ID())

	if m.stopping.Load() || m.arbiter.stopping.Load() {
		return
	}

	switch m.policy {
	case RestartNever:
		return
	case RestartOnFailure:
		if exitErr == nil {
			return
		}
	case RestartAlways:
	}

	if m.WorkerCount() >= m.minWorkers {
		return
	}

	m.logger.Warnf("worker %s exited (%v), respawning", h.ID(), exitErr)
	m.respawn()
}

// respawn runs the retry loop on the shared thread pool so the arbiter loop
// never blocks on a handshake.
func (m *Monitor) respawn() {
	m.arbiter.pool.Submit(m.arbiter.loop, func() (any, error) {
		retrier := retry.NewRetrier(m.retryAttempts, m.retryInitial, m.retryMax)
		err := retrier.RunContext(context.Background(), func(ctx context.Context) error {
			if m.stopping.Load() || m.arbiter.stopping.Load() {
				return retry.Stop(errors.ErrArbiterStopped)
			}
			return m.spawnWorker(ctx)
		})
		if err != nil && err != errors.ErrArbiterStopped {
			m.escalate(errors.NewErrRestartExhausted(err))
		}
		return nil, nil
	})
}

func (m *Monitor) escalate(err error) {
	m.logger.Errorf("monitor %s escalating: %v", m.name, err)
	if m.onEscalation != nil {
		m.onEscalation(err)
	}
}
