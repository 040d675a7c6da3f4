package framescanner

import (
	"sort"
	"sync"
	"time"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// FrameFunc runs once on the next display refresh.
type FrameFunc func(now time.Time)

// Scheduler runs frame and delayed callbacks cooperatively on one goroutine.
//
// Callbacks requested while a refresh is being processed run on the next one.
// Cancel on an unknown or already-run handle is a no-op.
type Scheduler interface {
	RequestFrame(fn FrameFunc) Handle
	AfterFunc(d time.Duration, fn func()) Handle
	Cancel(h Handle)
}

// queue is the callback bookkeeping shared by both schedulers.
type queue struct {
	mu     sync.Mutex
	next   Handle
	frames map[Handle]FrameFunc
	afters map[Handle]*after
}

type after struct {
	due   time.Time
	fn    func()
	timer *time.Timer // RefreshScheduler only
}

func newQueue() queue {
	return queue{
		frames: make(map[Handle]FrameFunc),
		afters: make(map[Handle]*after),
	}
}

func (q *queue) issue() Handle {
	q.next++
	return q.next
}

// takeFrames removes and returns every pending frame callback in request order.
func (q *queue) takeFrames() []FrameFunc {
	q.mu.Lock()
	handles := make([]Handle, 0, len(q.frames))
	for h := range q.frames {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	fns := make([]FrameFunc, 0, len(handles))
	for _, h := range handles {
		fns = append(fns, q.frames[h])
		delete(q.frames, h)
	}
	q.mu.Unlock()
	return fns
}

func (q *queue) takeAfter(h Handle) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.afters[h]
	if !ok {
		return nil
	}
	delete(q.afters, h)
	return a.fn
}

func (q *queue) cancel(h Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.frames, h)
	if a, ok := q.afters[h]; ok {
		if a.timer != nil {
			a.timer.Stop()
		}
		delete(q.afters, h)
	}
}

// Pending counts scheduled callbacks that have not run.
func (q *queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames) + len(q.afters)
}

// RefreshScheduler drives callbacks from a ticker at a fixed refresh rate.
type RefreshScheduler struct {
	queue
	interval time.Duration

	fired    chan Handle
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRefreshScheduler starts the refresh goroutine; hz <= 0 means 60.
func NewRefreshScheduler(hz int) *RefreshScheduler {
	if hz <= 0 {
		hz = 60
	}
	s := &RefreshScheduler{
		queue:    newQueue(),
		interval: time.Second / time.Duration(hz),
		fired:    make(chan Handle),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *RefreshScheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			for _, fn := range s.takeFrames() {
				fn(now)
			}
		case h := <-s.fired:
			if fn := s.takeAfter(h); fn != nil {
				fn()
			}
		}
	}
}

// RequestFrame implements Scheduler.
func (s *RefreshScheduler) RequestFrame(fn FrameFunc) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.issue()
	s.frames[h] = fn
	return h
}

// AfterFunc implements Scheduler.
func (s *RefreshScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.issue()
	a := &after{due: time.Now().Add(d), fn: fn}
	a.timer = time.AfterFunc(d, func() {
		select {
		case s.fired <- h:
		case <-s.stop:
		}
	})
	s.afters[h] = a
	return h
}

// Cancel implements Scheduler.
func (s *RefreshScheduler) Cancel(h Handle) {
	s.cancel(h)
}

// Close stops the refresh goroutine and drops pending callbacks. Idempotent.
func (s *RefreshScheduler) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done

		s.mu.Lock()
		for h, a := range s.afters {
			a.timer.Stop()
			delete(s.afters, h)
		}
		for h := range s.frames {
			delete(s.frames, h)
		}
		s.mu.Unlock()
	})
}

// ManualScheduler runs callbacks only when the test calls Tick, against a
// fake clock.
type ManualScheduler struct {
	queue
	clockMu sync.Mutex
	now     time.Time
}

// NewManualScheduler returns a scheduler whose clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{queue: newQueue(), now: start}
}

// Now returns the fake clock.
func (s *ManualScheduler) Now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.now
}

// RequestFrame implements Scheduler.
func (s *ManualScheduler) RequestFrame(fn FrameFunc) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.issue()
	s.frames[h] = fn
	return h
}

// AfterFunc implements Scheduler.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.issue()
	s.afters[h] = &after{due: now.Add(d), fn: fn}
	return h
}

// Cancel implements Scheduler.
func (s *ManualScheduler) Cancel(h Handle) {
	s.cancel(h)
}

// Tick moves the clock to now, runs every delayed callback that became due
// (in due order), then every pending frame callback.
func (s *ManualScheduler) Tick(now time.Time) {
	s.clockMu.Lock()
	if now.After(s.now) {
		s.now = now
	}
	now = s.now
	s.clockMu.Unlock()

	for _, h := range s.due(now) {
		if fn := s.takeAfter(h); fn != nil {
			fn()
		}
	}
	for _, fn := range s.takeFrames() {
		fn(now)
	}
}

// Advance ticks d past the current fake time.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.Tick(s.Now().Add(d))
}

func (s *ManualScheduler) due(now time.Time) []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hs []Handle
	for h, a := range s.afters {
		if !a.due.After(now) {
			hs = append(hs, h)
		}
	}
	sort.Slice(hs, func(i, j int) bool {
		ai, aj := s.afters[hs[i]], s.afters[hs[j]]
		if ai.due.Equal(aj.due) {
			return hs[i] < hs[j]
		}
		return ai.due.Before(aj.due)
	})
	return hs
}
