// Package reactor runs the single goroutine that owns all broker state.
// Transport handlers, scan timers and keepalives never touch engine state
// directly; they post closures that the loop executes one at a time.
package reactor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	"github.com/drblury/haltalk/internal/runtime/logging"
)

// TimerID names a periodic timer registered with AddTimer.
type TimerID uint64

const defaultQueueSize = 256

type timer struct {
	id       TimerID
	interval time.Duration
	fn       func()
	stop     chan struct{}
	// pending coalesces ticks while one is still queued.
	pending atomic.Bool
}

// Loop is a serial executor with periodic timers.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger logging.ServiceLogger

	started atomic.Bool

	mu     sync.Mutex
	timers map[TimerID]*timer
	nextID TimerID
}

// New returns a loop that is ready to accept work. Work posted before Run is
// queued and runs once the loop starts.
func New(logger logging.ServiceLogger) *Loop {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Loop{
		tasks:  make(chan func(), defaultQueueSize),
		done:   make(chan struct{}),
		logger: logger.With(logging.LogFields{"component": "reactor"}),
		timers: make(map[TimerID]*timer),
	}
}

// Run executes posted work until ctx is cancelled. All timers are stopped on
// return. Run may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("reactor: loop already started")
	}
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("reactor task panicked", fmt.Errorf("panic: %v", r), nil)
		}
	}()
	fn()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	for id, t := range l.timers {
		close(t.stop)
		delete(l.timers, id)
	}
	l.mu.Unlock()
	close(l.done)
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues fn for execution on the loop. It reports false when the loop has
// stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return errspkg.ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return errspkg.ErrLoopStopped
	}
}

// AddTimer calls fn on the loop every interval until CancelTimer. Ticks that
// arrive while the previous one is still queued are dropped.
func (l *Loop) AddTimer(interval time.Duration, fn func()) TimerID {
	l.mu.Lock()
	l.nextID++
	t := &timer{id: l.nextID, interval: interval, fn: fn, stop: make(chan struct{})}
	l.timers[t.id] = t
	l.mu.Unlock()

	go l.tick(t)
	return t.id
}

func (l *Loop) tick(t *timer) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-l.done:
			return
		case <-ticker.C:
			if !t.pending.CompareAndSwap(false, true) {
				continue
			}
			if !l.Post(func() { l.fire(t) }) {
				return
			}
		}
	}
}

// fire runs a tick unless the timer was cancelled after the tick was queued.
func (l *Loop) fire(t *timer) {
	t.pending.Store(false)
	l.mu.Lock()
	live := l.timers[t.id] == t
	l.mu.Unlock()
	if live {
		t.fn()
	}
}

// CancelTimer stops a timer. A tick already queued for it is discarded. It
// reports false for unknown ids.
func (l *Loop) CancelTimer(id TimerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.timers[id]
	if !ok {
		return false
	}
	delete(l.timers, id)
	close(t.stop)
	return true
}

// ActiveTimers is the number of live timers.
func (l *Loop) ActiveTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}
