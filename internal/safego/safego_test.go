package safego

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGo_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	Go(func() {
		defer wg.Done()
		panic("intentional panic in test")
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout after panic")
	}
}

// ---------------------------------------------------------------------------
// Task
// ---------------------------------------------------------------------------

func TestStart_ReturnsResult(t *testing.T) {
	want := errors.New("fetch failed")
	task := Start(func() error { return want }, nil)

	if err := task.Wait(context.Background()); !errors.Is(err, want) {
		t.Errorf("Wait() = %v, want %v", err, want)
	}
	if err := task.Wait(context.Background()); !errors.Is(err, want) {
		t.Errorf("second Wait() = %v, want %v", err, want)
	}
}

func TestStart_PanicBecomesError(t *testing.T) {
	task := Start(func() error { panic("boom") }, nil)

	err := task.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Wait() = %v, want panic error", err)
	}
}

func TestStart_OnDoneRunsBeforeDone(t *testing.T) {
	var got error
	called := false
	task := Start(func() error { return nil }, func(err error) {
		called = true
		got = err
	})

	<-task.Done()
	if !called {
		t.Fatal("onDone not called before Done was closed")
	}
	if got != nil {
		t.Errorf("onDone err = %v, want nil", got)
	}
}

func TestStart_OnDonePanicStillClosesDone(t *testing.T) {
	task := Start(func() error { return nil }, func(error) { panic("callback") })

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after callback panic")
	}
}

func TestTask_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	task := Start(func() error {
		<-release
		return nil
	}, nil)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := task.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
	select {
	case <-task.Done():
		t.Error("Done closed before the task finished")
	default:
	}
}

func TestTask_MultipleWaiters(t *testing.T) {
	release := make(chan struct{})
	task := Start(func() error {
		<-release
		return nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task.Wait(context.Background()); err != nil {
				t.Errorf("Wait() = %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()
}
