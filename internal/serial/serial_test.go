package serial

import (
	"errors"
	"sync"
	"testing"
)

func TestOrdering(t *testing.T) {
	e := New("test", nil)
	defer e.Close()

	var order []int
	var chans []<-chan error
	for i := range 20 {
		chans = append(chans, e.Submit(func() error {
			order = append(order, i)
			return nil
		}))
	}
	for _, ch := range chans {
		if err := <-ch; err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	for i, got := range order {
		if got != i {
			t.Fatalf("jobs ran out of order: position %d got %d", i, got)
		}
	}
}

func TestDoReturnsError(t *testing.T) {
	e := New("test", nil)
	defer e.Close()

	want := errors.New("boom")
	if err := e.Do(func() error { return want }); !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}

func TestNoConcurrentExecution(t *testing.T) {
	e := New("test", nil)
	defer e.Close()

	var inFlight, maxInFlight int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			_ = e.Do(func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		})
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("max in-flight jobs = %d, want 1", maxInFlight)
	}
}

func TestCloseDrains(t *testing.T) {
	e := New("test", nil)

	done := false
	ch := e.Submit(func() error {
		done = true
		return nil
	})
	e.Close()

	if err := <-ch; err != nil {
		t.Fatalf("queued job failed: %v", err)
	}
	if !done {
		t.Error("Close returned before queued job ran")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	e := New("test", nil)
	e.Close()

	if err := e.Do(func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	e := New("test", nil)
	e.Close()
	e.Close()
}
