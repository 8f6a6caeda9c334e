// Package reactor is a single-goroutine event loop: one-shot timers and
// posted callbacks, all executed on the goroutine that drives the loop.
//
// Nothing in a Loop is locked except the post queue. Timers may only be
// created, started and stopped from loop callbacks, or before the loop runs.
package reactor

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const postQueueSize = 256

type Loop struct {
	clock  clock.Clock
	timers timerHeap
	seq    uint64

	posted    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func New(c clock.Clock) *Loop {
	if c == nil {
		c = clock.New()
	}
	return &Loop{
		clock:  c,
		posted: make(chan func(), postQueueSize),
		done:   make(chan struct{}),
	}
}

// Now is the loop clock's current time; timer deadlines are relative to it.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Pending reports how many timers are armed.
func (l *Loop) Pending() int { return len(l.timers) }

// Post queues fn to run on the loop goroutine. It is safe to call from any
// goroutine and blocks while the queue is full. It reports false once the
// loop has been closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.posted <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Close stops Run and rejects further posts. Armed timers are abandoned.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// RunDue fires every timer whose deadline is not after the current time,
// in deadline order, and returns how many fired.
func (l *Loop) RunDue() int {
	now := l.Now()
	n := 0
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.when.After(now) {
			break
		}
		heap.Pop(&l.timers)
		n++
		t.fn()
	}
	return n
}

// runPosted executes queued callbacks without blocking.
func (l *Loop) runPosted() int {
	n := 0
	for {
		select {
		case fn := <-l.posted:
			fn()
			n++
		default:
			return n
		}
	}
}

// Run drives the loop until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	return l.run(ctx, false)
}

// Drain drives the loop until no timer is armed and nothing is queued.
func (l *Loop) Drain(ctx context.Context) error {
	return l.run(ctx, true)
}

func (l *Loop) run(ctx context.Context, untilIdle bool) error {
	for {
		l.runPosted()
		l.RunDue()
		if untilIdle && len(l.timers) == 0 && len(l.posted) == 0 {
			return nil
		}

		var (
			wake  <-chan time.Time
			timer *clock.Timer
		)
		if len(l.timers) > 0 {
			timer = l.clock.Timer(l.timers[0].when.Sub(l.clock.Now()))
			wake = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-l.done:
			stopTimer(timer)
			return nil
		case fn := <-l.posted:
			fn()
		case <-wake:
		}
		stopTimer(timer)
	}
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Timer is a one-shot timer owned by a Loop. A fired or stopped timer can be
// started again.
type Timer struct {
	loop  *Loop
	fn    func()
	when  time.Time
	seq   uint64
	index int
}

// NewTimer returns a disarmed timer that calls fn on the loop goroutine.
func (l *Loop) NewTimer(fn func()) *Timer {
	return &Timer{loop: l, fn: fn, index: -1}
}

// Start arms the timer to fire after d, replacing any earlier deadline.
func (t *Timer) Start(d time.Duration) {
	l := t.loop
	l.seq++
	t.when = l.Now().Add(d)
	t.seq = l.seq
	if t.index >= 0 {
		heap.Fix(&l.timers, t.index)
		return
	}
	heap.Push(&l.timers, t)
}

// Stop disarms the timer. It reports whether the timer was armed.
func (t *Timer) Stop() bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.loop.timers, t.index)
	return true
}

func (t *Timer) Active() bool { return t.index >= 0 }

// Deadline is the time the timer fires, meaningful only while Active.
func (t *Timer) Deadline() time.Time { return t.when }

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
