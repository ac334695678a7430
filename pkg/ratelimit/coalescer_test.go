package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testWindow = 50 * time.Millisecond

func newTestCoalescer[In, Out any](t *testing.T, fn Func[In, Out], mode Mode) *Coalescer[In, Out] {
	t.Helper()

	c, err := NewCoalescer(fn, Options{Window: testWindow, Mode: mode}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCoalescer() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewCoalescer_Validation(t *testing.T) {
	fn := func(_ context.Context, in int) (int, error) { return in, nil }

	tests := []struct {
		name        string
		fn          Func[int, int]
		opts        Options
		expectError bool
	}{
		{"valid defaults", fn, DefaultOptions(), false},
		{"zero window", fn, Options{Window: 0, Mode: ModeQueue}, false},
		{"nil func", nil, DefaultOptions(), true},
		{"negative window", fn, Options{Window: -time.Second}, true},
		{"unknown mode", fn, Options{Window: time.Second, Mode: "lifo"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCoalescer(tt.fn, tt.opts, zerolog.Nop())
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			c.Close()
		})
	}
}

func TestCoalescer_CoalescesWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var executed []string

	c := newTestCoalescer(t, func(_ context.Context, in string) (string, error) {
		mu.Lock()
		executed = append(executed, in)
		mu.Unlock()
		return "result:" + in, nil
	}, ModeCoalesce)

	var wg sync.WaitGroup
	results := make([]string, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := c.Do(context.Background(), "first")
		if err != nil {
			t.Errorf("first Do() error = %v", err)
		}
		results[0] = out
	}()

	waitFor(t, func() bool { return c.State() == StatePending })

	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := c.Do(context.Background(), "second")
		if err != nil {
			t.Errorf("second Do() error = %v", err)
		}
		results[1] = out
	}()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 1 || executed[0] != "second" {
		t.Fatalf("expected single execution with later arguments, got %v", executed)
	}
	for i, r := range results {
		if r != "result:second" {
			t.Errorf("caller %d got %q, want %q", i, r, "result:second")
		}
	}

	snap := c.Snapshot()
	if snap.Superseded != 1 {
		t.Errorf("Superseded = %d, want 1", snap.Superseded)
	}
	if snap.Executed != 1 {
		t.Errorf("Executed = %d, want 1", snap.Executed)
	}
}

func TestCoalescer_SequentialCallsEachExecute(t *testing.T) {
	var calls atomic.Int32

	c := newTestCoalescer(t, func(_ context.Context, in int) (int, error) {
		calls.Add(1)
		return in * 2, nil
	}, ModeCoalesce)

	for i := 1; i <= 3; i++ {
		out, err := c.Do(context.Background(), i)
		if err != nil {
			t.Fatalf("Do(%d) error = %v", i, err)
		}
		if out != i*2 {
			t.Errorf("Do(%d) = %d, want %d", i, out, i*2)
		}
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 executions, got %d", got)
	}
}

func TestCoalescer_WaitsForQuiescence(t *testing.T) {
	start := time.Now()

	c := newTestCoalescer(t, func(_ context.Context, _ int) (time.Duration, error) {
		return time.Since(start), nil
	}, ModeCoalesce)

	elapsed, err := c.Do(context.Background(), 1)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if elapsed < testWindow {
		t.Errorf("execution started after %s, want >= %s", elapsed, testWindow)
	}
}

func TestCoalescer_ErrorSettlesAllWaiters(t *testing.T) {
	errUpstream := errors.New("upstream down")
	release := make(chan struct{})

	c := newTestCoalescer(t, func(_ context.Context, _ int) (int, error) {
		<-release
		return 0, errUpstream
	}, ModeCoalesce)

	errs := make(chan error, 2)
	go func() {
		_, err := c.Do(context.Background(), 1)
		errs <- err
	}()
	waitFor(t, func() bool { return c.State() == StatePending })
	go func() {
		_, err := c.Do(context.Background(), 2)
		errs <- err
	}()

	waitFor(t, func() bool { return c.State() == StateInFlight })
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, errUpstream) {
			t.Errorf("waiter %d: expected errUpstream, got %v", i, err)
		}
	}
}

func TestCoalescer_StateTransitions(t *testing.T) {
	release := make(chan struct{})

	c := newTestCoalescer(t, func(_ context.Context, _ int) (int, error) {
		<-release
		return 1, nil
	}, ModeCoalesce)

	if got := c.State(); got != StateIdle {
		t.Fatalf("initial state = %v, want idle", got)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Do(context.Background(), 1)
	}()

	waitFor(t, func() bool { return c.State() == StatePending })
	waitFor(t, func() bool { return c.State() == StateInFlight })

	close(release)
	<-done

	waitFor(t, func() bool { return c.State() == StateIdle })
}

func TestCoalescer_ContextCancelAbandonsWaitOnly(t *testing.T) {
	var calls atomic.Int32

	c := newTestCoalescer(t, func(_ context.Context, in int) (int, error) {
		calls.Add(1)
		return in, nil
	}, ModeCoalesce)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, 1)
		errs <- err
	}()

	waitFor(t, func() bool { return c.State() == StatePending })
	cancel()

	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	waitFor(t, func() bool { return c.Snapshot().Executed == 1 })
	if got := calls.Load(); got != 1 {
		t.Errorf("pending execution should still run once, got %d", got)
	}
}

func TestCoalescer_Close(t *testing.T) {
	c, err := NewCoalescer(func(_ context.Context, in int) (int, error) {
		return in, nil
	}, Options{Window: time.Hour, Mode: ModeCoalesce}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCoalescer() error = %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), 1)
		errs <- err
	}()

	waitFor(t, func() bool { return c.State() == StatePending })
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := <-errs; !errors.Is(err, ErrClosed) {
		t.Errorf("pending caller: expected ErrClosed, got %v", err)
	}

	if _, err := c.Do(context.Background(), 2); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after Close: expected ErrClosed, got %v", err)
	}

	// Second close is a no-op.
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCoalescer_QueueModeExecutesEveryRequest(t *testing.T) {
	var mu sync.Mutex
	starts := make(map[int]time.Time)

	c := newTestCoalescer(t, func(_ context.Context, in int) (int, error) {
		mu.Lock()
		starts[in] = time.Now()
		mu.Unlock()
		return in * 10, nil
	}, ModeQueue)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Do(context.Background(), i)
			if err != nil {
				t.Errorf("Do(%d) error = %v", i, err)
				return
			}
			if out != i*10 {
				t.Errorf("Do(%d) = %d, want %d", i, out, i*10)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(starts))
	}

	var first, last time.Time
	for _, s := range starts {
		if first.IsZero() || s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	// Three starts spaced by the window span at least two windows (minus timer slack).
	if span := last.Sub(first); span < 2*testWindow-10*time.Millisecond {
		t.Errorf("queued executions spanned %s, want >= %s", span, 2*testWindow)
	}

	if snap := c.Snapshot(); snap.Superseded != 0 {
		t.Errorf("queue mode should never supersede, got %d", snap.Superseded)
	}
}
