package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.armOnce(target, ch)
	return ch
}

func (f *Fake) armOnce(target time.Time, ch chan time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.now.Before(target) {
		ch <- f.now
		return
	}
	f.tickers = append(f.tickers, &fakeTicker{target: target, ch: ch, once: true})
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	t := &fakeTicker{interval: d, target: f.now.Add(d), ch: ch, clock: f}
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

// Advance moves the clock forward by d, firing any tickers/timers whose
// target has been reached.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	live := f.tickers[:0]
	for _, t := range f.tickers {
		if !now.Before(t.target) {
			select {
			case t.ch <- now:
			default:
			}
			if t.once {
				continue
			}
			t.target = now.Add(t.interval)
		}
		live = append(live, t)
	}
	f.tickers = live
	f.mu.Unlock()
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	target   time.Time
	ch       chan time.Time
	once     bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	if t.clock == nil {
		return
	}
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	live := t.clock.tickers[:0]
	for _, other := range t.clock.tickers {
		if other != t {
			live = append(live, other)
		}
	}
	t.clock.tickers = live
}
