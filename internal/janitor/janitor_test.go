package janitor

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeTarget struct {
	partition int
	purges    atomic.Int32
	block     chan struct{}
}

func (f *fakeTarget) Partition() int { return f.partition }

func (f *fakeTarget) PurgePending() error {
	f.purges.Add(1)
	if f.block != nil {
		<-f.block
	}
	return nil
}

func TestJanitorSweepsRegisteredStores(t *testing.T) {
	j, err := New(Config{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	t.Cleanup(func() { _ = j.Stop() })

	target := &fakeTarget{partition: 1}
	if err := j.Register(target); err != nil {
		t.Fatalf("register: %v", err)
	}
	j.Start()

	deadline := time.After(5 * time.Second)
	for target.purges.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("saw %d sweeps, want at least 2", target.purges.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJanitorCollapsesOverlappingSweeps(t *testing.T) {
	j, err := New(Config{Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}

	target := &fakeTarget{partition: 1, block: make(chan struct{})}
	if err := j.Register(target); err != nil {
		t.Fatalf("register: %v", err)
	}
	j.Start()

	// Let several intervals elapse while the first sweep is stuck.
	time.Sleep(50 * time.Millisecond)
	if got := target.purges.Load(); got > 1 {
		t.Errorf("overlapping sweeps ran %d times, want collapsed to 1", got)
	}
	close(target.block)
	_ = j.Stop()
}

func TestJanitorDefaultInterval(t *testing.T) {
	j, err := New(Config{})
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	t.Cleanup(func() { _ = j.Stop() })
	if j.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", j.interval, DefaultInterval)
	}
}
