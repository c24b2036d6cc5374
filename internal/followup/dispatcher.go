// Package followup delivers delayed assistant messages after a chat turn has
// already been answered.
package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTaskTimeout = 5 * time.Second
	queueSize          = 64
)

var (
	// ErrClosed is returned by Schedule after Shutdown has begun.
	ErrClosed = errors.New("followup: dispatcher closed")
	// ErrNotStarted is returned by Schedule before Start.
	ErrNotStarted = errors.New("followup: dispatcher not started")
)

var newUUID = uuid.NewString

// Task is one deferred message for a session.
type Task struct {
	ID        string
	SessionID string
	Content   string
	Delay     time.Duration
	DueAt     time.Time
}

// Handler performs a due task.
type Handler func(ctx context.Context, task Task) error

// Timer is the part of *time.Timer the dispatcher uses.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can fire timers deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type pendingTask struct {
	task  Task
	timer Timer
}

// Dispatcher holds scheduled tasks until they are due and runs them on a
// fixed set of worker goroutines. With one worker, due tasks run in due order.
type Dispatcher struct {
	clock       Clock
	logger      *slog.Logger
	taskTimeout time.Duration
	workers     int

	mu       sync.Mutex
	pending  map[string]*pendingTask
	closed   bool
	started  bool
	handler  Handler
	inflight sync.WaitGroup

	queue chan Task
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets how many tasks may run at once. Values below one are
// ignored.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewDispatcher creates a Dispatcher. A nil clock uses wall time and a
// non-positive taskTimeout uses the default.
func NewDispatcher(clock Clock, logger *slog.Logger, taskTimeout time.Duration, opts ...Option) *Dispatcher {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	d := &Dispatcher{
		clock:       clock,
		logger:      logger,
		taskTimeout: taskTimeout,
		workers:     1,
		pending:     map[string]*pendingTask{},
		queue:       make(chan Task, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers. It may be called once.
func (d *Dispatcher) Start(h Handler) error {
	if h == nil {
		return errors.New("followup: handler must not be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("followup: dispatcher already started")
	}
	if d.closed {
		return ErrClosed
	}
	d.started = true
	d.handler = h

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.run()
		}()
	}
	go func() {
		wg.Wait()
		close(d.done)
	}()
	return nil
}

// Schedule registers task to run after task.Delay and returns the stored
// task with its ID and DueAt filled in. The task outlives ctx.
func (d *Dispatcher) Schedule(_ context.Context, task Task) (Task, error) {
	if task.SessionID == "" {
		return Task{}, errors.New("followup: Schedule: session id must not be empty")
	}
	if task.Delay < 0 {
		task.Delay = 0
	}
	if task.ID == "" {
		task.ID = newUUID()
	}
	task.DueAt = d.clock.Now().Add(task.Delay)

	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return Task{}, ErrClosed
	case !d.started:
		d.mu.Unlock()
		return Task{}, ErrNotStarted
	}
	if _, dup := d.pending[task.ID]; dup {
		d.mu.Unlock()
		return Task{}, fmt.Errorf("followup: Schedule: duplicate task id %q", task.ID)
	}
	entry := &pendingTask{task: task}
	d.pending[task.ID] = entry
	d.mu.Unlock()

	// The clock may fire synchronously, so the timer is armed outside the lock.
	timer := d.clock.AfterFunc(task.Delay, func() { d.fire(task.ID) })

	d.mu.Lock()
	entry.timer = timer
	d.mu.Unlock()
	return task, nil
}

// Pending reports how many tasks are waiting for their timer.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) fire(id string) {
	d.mu.Lock()
	entry, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
		d.inflight.Add(1)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	defer d.inflight.Done()
	d.queue <- entry.task
}

// Shutdown stops accepting tasks, runs every pending task immediately and
// waits for the workers to finish or ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		started := d.started
		d.mu.Unlock()
		if !started {
			return nil
		}
		return d.wait(ctx)
	}
	d.closed = true
	started := d.started
	flushed := make([]Task, 0, len(d.pending))
	for id, entry := range d.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		flushed = append(flushed, entry.task)
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if !started {
		for _, t := range flushed {
			d.logger.WarnContext(ctx, "follow-up dropped: dispatcher never started",
				"task_id", t.ID, "session_id", t.SessionID)
		}
		return nil
	}

	for _, t := range flushed {
		select {
		case d.queue <- t:
		case <-ctx.Done():
			return fmt.Errorf("followup: Shutdown: %w", ctx.Err())
		}
	}

	fired := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(fired)
	}()
	select {
	case <-fired:
	case <-ctx.Done():
		return fmt.Errorf("followup: Shutdown: %w", ctx.Err())
	}
	close(d.stop)
	return d.wait(ctx)
}

func (d *Dispatcher) wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("followup: Shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	for {
		select {
		case t := <-d.queue:
			d.handle(t)
		case <-d.stop:
			for {
				select {
				case t := <-d.queue:
					d.handle(t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("follow-up panicked", "task_id", t.ID, "session_id", t.SessionID, "panic", r)
		}
	}()

	if err := d.handler(ctx, t); err != nil {
		d.logger.ErrorContext(ctx, "follow-up failed",
			"task_id", t.ID,
			"session_id", t.SessionID,
			"err", err,
		)
		return
	}
	d.logger.InfoContext(ctx, "follow-up delivered",
		"task_id", t.ID,
		"session_id", t.SessionID,
		"late_by", d.clock.Now().Sub(t.DueAt).String(),
	)
}
