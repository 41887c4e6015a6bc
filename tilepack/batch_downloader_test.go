package tilepack

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

type testRequest string

func (r testRequest) Endpoint() string {
	return string(r)
}

// fakeClients hands out clients that sleep for delay and then answer with
// handle. It records the peak number of concurrent requests and whether a
// client was ever used by two requests at once.
type fakeClients struct {
	delay    time.Duration
	handle   func(endpoint string) (int, []byte, error)
	inFlight atomic.Int32
	peak     atomic.Int32
	overlap  atomic.Bool
	created  atomic.Int32
}

func (f *fakeClients) newClient() Client {
	f.created.Add(1)
	return &fakeClient{clients: f}
}

type fakeClient struct {
	clients *fakeClients
	busy    atomic.Bool
}

func (c *fakeClient) Get(ctx context.Context, endpoint string) (int, []byte, error) {
	f := c.clients
	if !c.busy.CompareAndSwap(false, true) {
		f.overlap.Store(true)
	}
	defer c.busy.Store(false)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
	if f.handle == nil {
		return 200, []byte(endpoint), nil
	}
	return f.handle(endpoint)
}

func testRequests(n int) []testRequest {
	requests := make([]testRequest, n)
	for i := range requests {
		requests[i] = testRequest(fmt.Sprintf("req-%d", i))
	}
	return requests
}

func TestBatchDownloader_RateLimit(t *testing.T) {
	clients := &fakeClients{delay: 10 * time.Millisecond}
	d := NewBatchDownloader[testRequest](5, 3, clients.newClient)
	defer d.Close()

	requests := testRequests(10)
	completed := make(map[testRequest]int)
	start := time.Now()
	err := d.Download(context.Background(), slices.Values(requests), func(r testRequest, body []byte, status int, err error) {
		completed[r]++
		if status != 200 || string(body) != string(r) || err != nil {
			t.Errorf("completion of %s = %d %q %v", r, status, body, err)
		}
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if elapsed < 1790*time.Millisecond {
		t.Errorf("10 requests at 5/s took %v, want at least 1.8s", elapsed)
	}
	for _, r := range requests {
		if completed[r] != 1 {
			t.Errorf("%s completed %d times", r, completed[r])
		}
	}
	if got := clients.peak.Load(); got > 3 {
		t.Errorf("%d requests in flight, want at most 3", got)
	}
	if clients.overlap.Load() {
		t.Errorf("a client was used by concurrent requests")
	}
	if got := clients.created.Load(); got != 3 {
		t.Errorf("%d clients created, want 3", got)
	}
}

func TestBatchDownloader_Parallelism(t *testing.T) {
	clients := &fakeClients{delay: 20 * time.Millisecond}
	d := NewBatchDownloader[testRequest](1000, 3, clients.newClient)
	defer d.Close()

	count := 0
	err := d.Download(context.Background(), slices.Values(testRequests(40)), func(testRequest, []byte, int, error) {
		count++
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if count != 40 {
		t.Errorf("%d completions, want 40", count)
	}
	if got := clients.peak.Load(); got > 3 {
		t.Errorf("%d requests in flight, want at most 3", got)
	}
	if clients.overlap.Load() {
		t.Errorf("a client was used by concurrent requests")
	}
}

func TestBatchDownloader_Outcomes(t *testing.T) {
	failure := errors.New("connection reset")
	clients := &fakeClients{handle: func(endpoint string) (int, []byte, error) {
		switch endpoint {
		case "missing":
			return 404, nil, nil
		case "broken":
			return 0, nil, failure
		case "panic":
			panic("client bug")
		}
		return 200, []byte("ok"), nil
	}}
	d := NewBatchDownloader[testRequest](1000, 2, clients.newClient)
	defer d.Close()

	type outcome struct {
		status int
		body   string
		err    bool
	}
	got := make(map[testRequest]outcome)
	requests := []testRequest{"ok", "missing", "broken", "panic"}
	err := d.Download(context.Background(), slices.Values(requests), func(r testRequest, body []byte, status int, err error) {
		got[r] = outcome{status, string(body), err != nil}
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	want := map[testRequest]outcome{
		"ok":      {200, "ok", false},
		"missing": {404, "", false},
		"broken":  {0, "", true},
		"panic":   {0, "", true},
	}
	for r, w := range want {
		if got[r] != w {
			t.Errorf("outcome of %s = %+v, want %+v", r, got[r], w)
		}
	}
}

func TestBatchDownloader_Cancel(t *testing.T) {
	clients := &fakeClients{delay: 10 * time.Second}
	d := NewBatchDownloader[testRequest](1000, 2, clients.newClient)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	calls := 0
	start := time.Now()
	err := d.Download(ctx, slices.Values(testRequests(5)), func(testRequest, []byte, int, error) {
		calls++
	})
	if err != nil {
		t.Errorf("Download() error = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Download() returned after %v", elapsed)
	}
	if calls != 0 {
		t.Errorf("%d completions after cancellation, want 0", calls)
	}
	if got := len(d.clients); got != 2 {
		t.Errorf("%d clients returned to the pool, want 2", got)
	}
}

func TestBatchDownloader_Close(t *testing.T) {
	clients := &fakeClients{delay: 10 * time.Second}
	d := NewBatchDownloader[testRequest](1000, 2, clients.newClient)

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		err = d.Download(context.Background(), slices.Values(testRequests(5)), func(testRequest, []byte, int, error) {
			t.Errorf("unexpected completion")
		})
	}()

	time.Sleep(50 * time.Millisecond)
	d.Close()
	d.Close()
	wg.Wait()

	if err != nil {
		t.Errorf("Download() error = %v, want nil", err)
	}
}

func TestBatchDownloader_Empty(t *testing.T) {
	clients := &fakeClients{}
	d := NewBatchDownloader[testRequest](1, 0, clients.newClient)
	defer d.Close()

	if err := d.Download(context.Background(), slices.Values([]testRequest(nil)), func(testRequest, []byte, int, error) {
		t.Errorf("unexpected completion")
	}); err != nil {
		t.Errorf("Download() error = %v", err)
	}
	if got := clients.created.Load(); got != 1 {
		t.Errorf("%d clients created, want 1", got)
	}
}

func TestBatchDownloader_CompletesWhileWaitingForToken(t *testing.T) {
	mock := clock.NewMock()
	clients := &fakeClients{}
	d := NewBatchDownloader[testRequest](1, 2, clients.newClient, WithClock(mock))
	defer d.Close()

	completions := make(chan testRequest, 2)
	done := make(chan error, 1)
	go func() {
		done <- d.Download(context.Background(), slices.Values(testRequests(2)), func(r testRequest, _ []byte, _ int, _ error) {
			completions <- r
		})
	}()

	// The second request needs a token from the next refill; the first
	// completion is reported before that.
	select {
	case r := <-completions:
		if r != "req-0" {
			t.Errorf("first completion = %s, want req-0", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first completion held back until the next refill")
	}

	deadline := time.After(2 * time.Second)
	for finished := false; !finished; {
		mock.Add(time.Second)
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Download() error = %v", err)
			}
			finished = true
		case <-deadline:
			t.Fatal("Download() did not finish after refills")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if r := <-completions; r != "req-1" {
		t.Errorf("second completion = %s, want req-1", r)
	}
}
