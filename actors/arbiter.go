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
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/webpet/pulsar/async"
	"github.com/webpet/pulsar/config"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/eventloop"
	"github.com/webpet/pulsar/log"
	"github.com/webpet/pulsar/mailbox"
	"github.com/webpet/pulsar/threadpool"
)

const (
	// DefaultHandshakeTimeout bounds how long a spawn waits for the actor's
	// ready announcement.
	DefaultHandshakeTimeout = 5 * time.Second

	// DefaultShutdownGrace bounds how long Shutdown waits for actors to stop
	// before killing them.
	DefaultShutdownGrace = 5 * time.Second
)

// Arbiter is the root supervisor. It owns the registry of live actors, the
// loop that carries every supervisor-side mailbox, and the shared thread pool
// for blocking work.
type Arbiter struct {
	logger           log.Logger
	loop             *eventloop.Loop
	pool             *threadpool.Pool
	handshakeTimeout time.Duration
	shutdownGrace    time.Duration
	pollInterval     time.Duration
	poolSize         int
	respawnAttempts  int
	respawnInitial   time.Duration
	respawnMax       time.Duration

	mu       sync.RWMutex
	registry map[string]*Handle
	monitors map[string]*Monitor

	started  atomic.Bool
	stopping atomic.Bool
	runDone  chan struct{}
}

// ArbiterOption configures an Arbiter.
type ArbiterOption func(*Arbiter)

// WithArbiterLogger sets the arbiter logger.
func WithArbiterLogger(logger log.Logger) ArbiterOption {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

// WithHandshakeTimeout overrides the default spawn handshake deadline.
func WithHandshakeTimeout(timeout time.Duration) ArbiterOption {
	return func(a *Arbiter) {
		a.handshakeTimeout = timeout
	}
}

// WithShutdownGrace overrides the default shutdown grace period.
func WithShutdownGrace(grace time.Duration) ArbiterOption {
	return func(a *Arbiter) {
		a.shutdownGrace = grace
	}
}

// WithThreadPoolSize sets the shared thread pool's worker count.
func WithThreadPoolSize(size int) ArbiterOption {
	return func(a *Arbiter) {
		a.poolSize = size
	}
}

// WithConfig applies a loaded configuration, including the logger level.
func WithConfig(cfg *config.Config) ArbiterOption {
	return func(a *Arbiter) {
		a.handshakeTimeout = cfg.HandshakeTimeout.Std()
		a.shutdownGrace = cfg.ShutdownGrace.Std()
		a.pollInterval = cfg.PollInterval.Std()
		a.poolSize = cfg.ThreadPoolSize
		a.respawnAttempts = cfg.Respawn.Attempts
		a.respawnInitial = cfg.Respawn.InitialDelay.Std()
		a.respawnMax = cfg.Respawn.MaxDelay.Std()
		a.logger = log.NewZap(cfg.Level(), os.Stderr)
	}
}

// NewArbiter creates a stopped Arbiter. Call Start before spawning.
func NewArbiter(opts ...ArbiterOption) (*Arbiter, error) {
	a := &Arbiter{
		logger:           log.DefaultLogger,
		handshakeTimeout: DefaultHandshakeTimeout,
		shutdownGrace:    DefaultShutdownGrace,
		registry:         make(map[string]*Handle),
		monitors:         make(map[string]*Monitor),
		runDone:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.handshakeTimeout <= 0 {
		return nil, fmt.Errorf("handshake timeout %s: %w", a.handshakeTimeout, errors.ErrInvalidTimeout)
	}
	if a.shutdownGrace <= 0 {
		return nil, fmt.Errorf("shutdown grace %s: %w", a.shutdownGrace, errors.ErrInvalidTimeout)
	}

	loopOpts := []eventloop.Option{eventloop.WithLogger(a.logger)}
	if a.pollInterval > 0 {
		loopOpts = append(loopOpts, eventloop.WithPollInterval(a.pollInterval))
	}
	loop, err := eventloop.New(loopOpts...)
	if err != nil {
		return nil, err
	}
	a.loop = loop
	a.pool = threadpool.New(a.poolSize, threadpool.WithPoolLogger(a.logger))
	return a, nil
}

// Start launches the arbiter loop on its own goroutine. Idempotent.
func (a *Arbiter) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if err := a.loop.RunForever(); err != nil {
			a.logger.Errorf("arbiter loop exited with error: %v", err)
		}
		close(a.runDone)
	}()
}

// Loop returns the supervisor loop.
func (a *Arbiter) Loop() *eventloop.Loop {
	return a.loop
}

// Pool returns the shared thread pool.
func (a *Arbiter) Pool() *threadpool.Pool {
	return a.pool
}

// Actor looks up a live actor by id.
func (a *Arbiter) Actor(id string) (*Handle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.registry[id]
	return h, ok
}

// Actors snapshots the live actors.
func (a *Arbiter) Actors() []*Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	handles := make([]*Handle, 0, len(a.registry))
	for _, h := range a.registry {
		handles = append(handles, h)
	}
	return handles
}

// ActorCount returns the number of live actors.
func (a *Arbiter) ActorCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.registry)
}

// Supervise creates a Monitor over this arbiter, starts its pool, and
// registers it under the definition's name.
func (a *Arbiter) Supervise(ctx context.Context, def *Definition, opts ...MonitorOption) (*Monitor, error) {
	m, err := NewMonitor(a, def, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.monitors[m.Name()] = m
	a.mu.Unlock()
	return m, nil
}

// Monitor looks up a registered monitor by name.
func (a *Arbiter) Monitor(name string) (*Monitor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.monitors[name]
	if !ok {
		return nil, errors.ErrMonitorNotFound
	}
	return m, nil
}

// SpawnOption configures a single spawn.
type SpawnOption func(*spawnSettings)

type spawnSettings struct {
	timeout time.Duration
	onEvent EventHandler
	onExit  func(h *Handle, err error)
}

// WithSpawnTimeout overrides the arbiter's handshake deadline for this spawn.
func WithSpawnTimeout(timeout time.Duration) SpawnOption {
	return func(s *spawnSettings) {
		s.timeout = timeout
	}
}

// WithEventHandler subscribes to the actor's one-way events.
func WithEventHandler(handler EventHandler) SpawnOption {
	return func(s *spawnSettings) {
		s.onEvent = handler
	}
}

// withExitWatcher is used by monitors to observe worker exits.
func withExitWatcher(fn func(h *Handle, err error)) SpawnOption {
	return func(s *spawnSettings) {
		s.onExit = fn
	}
}

// Spawn starts a new actor from the definition and returns an async result
// that resolves with its *Handle once the handshake completes. The actor is
// not in the registry until then; a handshake deadline rejects the result
// with ErrHandshakeTimeout and leaves no trace behind.
func (a *Arbiter) Spawn(def *Definition, opts ...SpawnOption) *async.Result {
	if err := def.Validate(); err != nil {
		return async.RejectedResult(a.loop, errors.NewSpawnError(err))
	}
	if a.stopping.Load() {
		return async.RejectedResult(a.loop, errors.ErrArbiterStopped)
	}

	settings := &spawnSettings{timeout: a.handshakeTimeout}
	for _, opt := range opts {
		opt(settings)
	}

	parentFD, childFD, err := mailbox.Socketpair()
	if err != nil {
		return async.RejectedResult(a.loop, errors.NewSpawnError(err))
	}

	id := uuid.NewString()
	ready := async.NewResult(a.loop)
	handle := newHandle(id, def.Name, a.logger)
	handle.onEvent = settings.onEvent

	handle.onReady = func(msg *mailbox.Message) {
		if len(msg.Args) == 0 || msg.Args[0] != id {
			a.logger.Errorf("actor %s announced a mismatched id", id)
			ready.Reject(errors.NewSpawnError(fmt.Errorf("handshake id mismatch for actor %s", id)))
			handle.Kill()
			return
		}
		a.register(handle)
		handle.lifecycle.Store(int32(Running))
		handle.mbox.SetRemoteID(id)
		handle.mbox.Reply(msg.AckID, cmdReady, replyArgs(id, nil)...)
		a.logger.Infof("actor %s (%s) is up", def.Name, id)
		ready.Resolve(handle)
	}

	handle.onExit = func(h *Handle, exitErr error) {
		a.unregister(h.id)
		if ready.State() == async.Pending {
			// died before completing the handshake
			if exitErr == nil {
				exitErr = errors.ErrDead
			}
			ready.Reject(errors.NewSpawnError(exitErr))
		}
		if settings.onExit != nil {
			settings.onExit(h, exitErr)
		}
	}

	mbox, err := mailbox.New(a.loop, parentFD,
		mailbox.WithHandler(handle.onMessage),
		mailbox.WithCloseHandler(handle.onClosed),
		mailbox.WithMailboxLogger(a.logger))
	if err != nil {
		_ = unix.Close(parentFD)
		_ = unix.Close(childFD)
		return async.RejectedResult(a.loop, errors.NewSpawnError(err))
	}
	handle.mbox = mbox

	launch(id, def, childFD, a.logger, a.pollInterval)

	a.loop.CallLater(settings.timeout, func() {
		if ready.State() != async.Pending {
			return
		}
		a.logger.Errorf("actor %s (%s) missed the handshake deadline", def.Name, id)
		ready.Reject(errors.NewErrHandshakeTimeout(id))
		handle.Kill()
	})

	return ready
}

// SpawnSync is the blocking form of Spawn, for callers off the arbiter loop.
func (a *Arbiter) SpawnSync(ctx context.Context, def *Definition, opts ...SpawnOption) (*Handle, error) {
	value, err := a.Spawn(def, opts...).Await(ctx)
	if err != nil {
		return nil, err
	}
	return value.(*Handle), nil
}

// Shutdown stops every live actor within the grace period, kills stragglers,
// then stops the thread pool and the supervisor loop. The arbiter is not
// reusable afterwards.
func (a *Arbiter) Shutdown(ctx context.Context) error {
	if !a.stopping.CompareAndSwap(false, true) {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.shutdownGrace)
		defer cancel()
	}

	handles := a.Actors()
	a.logger.Infof("arbiter shutting down %d actor(s)", len(handles))

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			return h.Stop(ctx)
		})
	}
	err := g.Wait()

	a.pool.Stop()
	a.loop.Stop()
	if a.started.Load() {
		<-a.runDone
	}
	_ = a.loop.Close()
	return err
}

func (a *Arbiter) register(h *Handle) {
	a.mu.Lock()
	a.registry[h.id] = h
	a.mu.Unlock()
}

func (a *Arbiter) unregister(id string) {
	a.mu.Lock()
	delete(a.registry, id)
	a.mu.Unlock()
}
