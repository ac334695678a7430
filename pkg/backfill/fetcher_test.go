package backfill_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/movie-backfill/internal/testutil"
	"github.com/Sternrassler/movie-backfill/pkg/backfill"
	"github.com/Sternrassler/movie-backfill/pkg/ratelimit"
	"github.com/Sternrassler/movie-backfill/pkg/tmdb"
)

const testWindow = 10 * time.Millisecond

// fakeGetter answers GetMovie from a function and records the ids it saw.
type fakeGetter struct {
	mu    sync.Mutex
	calls []int64
	fn    func(id int64) (*tmdb.Movie, error)
}

func (g *fakeGetter) GetMovie(_ context.Context, id int64) (*tmdb.Movie, error) {
	g.mu.Lock()
	g.calls = append(g.calls, id)
	g.mu.Unlock()
	return g.fn(id)
}

func (g *fakeGetter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func echoMovie(id int64) (*tmdb.Movie, error) {
	return &tmdb.Movie{ID: id, Raw: []byte(fmt.Sprintf(`{"id":%d}`, id))}, nil
}

func newTestFetcher(t *testing.T, getter backfill.MovieGetter) *backfill.Fetcher {
	t.Helper()

	cfg := backfill.DefaultFetcherConfig()
	cfg.Throttle.Window = testWindow

	f, err := backfill.NewFetcher(getter, cfg)
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestNewFetcher_Validation(t *testing.T) {
	if _, err := backfill.NewFetcher(nil, backfill.DefaultFetcherConfig()); err == nil {
		t.Error("expected error for nil getter")
	}

	cfg := backfill.DefaultFetcherConfig()
	cfg.Throttle.Mode = ratelimit.Mode("burst")
	if _, err := backfill.NewFetcher(&fakeGetter{fn: echoMovie}, cfg); err == nil {
		t.Error("expected error for unknown throttle mode")
	}
}

func TestFetcher_AllSucceed(t *testing.T) {
	getter := &fakeGetter{fn: echoMovie}
	f := newTestFetcher(t, getter)

	payloads, err := f.Fetch(context.Background(), []int64{10, 20, 30, 40})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(payloads) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(payloads))
	}
	for i, want := range []int64{10, 20, 30} {
		if payloads[i].ExternalID != want {
			t.Errorf("payload %d: ExternalID = %d, want %d", i, payloads[i].ExternalID, want)
		}
	}
	if getter.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", getter.callCount())
	}
}

func TestFetcher_PartialFailureDropsFailedItems(t *testing.T) {
	tests := []struct {
		name   string
		ids    []int64
		failed map[int64]bool
		want   []int64
	}{
		{
			name:   "one of three fails",
			ids:    []int64{1, 2, 3},
			failed: map[int64]bool{2: true},
			want:   []int64{1, 3},
		},
		{
			name:   "all fail",
			ids:    []int64{1, 2},
			failed: map[int64]bool{1: true, 2: true},
			want:   nil,
		},
		{
			name: "empty batch",
			ids:  []int64{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := &fakeGetter{fn: func(id int64) (*tmdb.Movie, error) {
				if tt.failed[id] {
					return nil, errors.New("boom")
				}
				return echoMovie(id)
			}}
			f := newTestFetcher(t, getter)

			payloads, err := f.Fetch(context.Background(), tt.ids)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}

			if len(payloads) != len(tt.want) {
				t.Fatalf("expected %d payloads, got %d", len(tt.want), len(payloads))
			}
			for i, want := range tt.want {
				if payloads[i].ExternalID != want {
					t.Errorf("payload %d: ExternalID = %d, want %d", i, payloads[i].ExternalID, want)
				}
			}
		})
	}
}

func TestFetcher_CoalescesOverlappingBatches(t *testing.T) {
	getter := &fakeGetter{fn: echoMovie}

	cfg := backfill.DefaultFetcherConfig()
	cfg.Throttle.Window = 100 * time.Millisecond
	f, err := backfill.NewFetcher(getter, cfg)
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	defer f.Close()

	var wg sync.WaitGroup
	results := make([][]backfill.Payload, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = f.Fetch(context.Background(), []int64{1, 2})
	}()

	// Second batch arrives inside the first one's window and replaces it.
	deadline := time.Now().Add(time.Second)
	for f.State() != ratelimit.StatePending {
		if time.Now().After(deadline) {
			t.Fatal("first batch never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = f.Fetch(context.Background(), []int64{3})
	}()

	wg.Wait()

	if getter.callCount() != 1 {
		t.Fatalf("expected only the later batch to execute (1 call), got %d", getter.callCount())
	}
	for i, r := range results {
		if len(r) != 1 || r[0].ExternalID != 3 {
			t.Errorf("caller %d: expected payload for id 3, got %+v", i, r)
		}
	}
}

func TestFetcher_AgainstMockAPI(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.SetNotFound(20)
	mock.SetResponse(40, testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"status":"weird body for 40"}`})

	client, err := tmdb.New(tmdb.Config{
		BaseURL: mock.BaseURL(),
		Token:   func() string { return "test-token" },
	})
	if err != nil {
		t.Fatalf("tmdb.New() error = %v", err)
	}

	f := newTestFetcher(t, client)

	payloads, err := f.Fetch(context.Background(), []int64{10, 20, 30, 40})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(payloads))
	}
	if payloads[0].ExternalID != 10 || payloads[1].ExternalID != 30 {
		t.Errorf("unexpected payload ids: %d, %d", payloads[0].ExternalID, payloads[1].ExternalID)
	}
	if string(payloads[0].Data) != testutil.MovieBody(10) {
		t.Errorf("payload data not passed through: %s", payloads[0].Data)
	}
	if mock.GetRequestCount() != 4 {
		t.Errorf("expected 4 requests, got %d", mock.GetRequestCount())
	}
}
