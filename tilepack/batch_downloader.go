package tilepack

import (
	"context"
	"fmt"
	"iter"

	"github.com/facebookgo/clock"
)

// CompletionFunc receives the outcome of one request. body is only set for
// status 200; err is set when no response was received.
type CompletionFunc[R Request] func(request R, body []byte, statusCode int, err error)

// BatchDownloader fetches batches of requests with at most parallelism
// requests in flight, each admitted by a token bucket.
type BatchDownloader[R Request] struct {
	limiter     *tokenBucket
	clients     chan Client
	parallelism int
	ctx         context.Context
	cancel      context.CancelFunc
}

type downloaderOptions struct {
	clock clock.Clock
}

type DownloaderOption func(*downloaderOptions)

// WithClock drives the rate limiter from clk instead of the wall clock.
func WithClock(clk clock.Clock) DownloaderOption {
	return func(o *downloaderOptions) {
		o.clock = clk
	}
}

// NewBatchDownloader returns a downloader admitting requestsPerSec requests
// per second (clamped to [0.1, 1000]) with a pool of parallelism clients
// created by newClient.
func NewBatchDownloader[R Request](requestsPerSec float64, parallelism int, newClient func() Client, opts ...DownloaderOption) *BatchDownloader[R] {
	o := downloaderOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	parallelism = max(parallelism, 1)
	capacity, perPeriod, period := bucketParams(clampRate(requestsPerSec), parallelism)

	ctx, cancel := context.WithCancel(context.Background())
	d := &BatchDownloader[R]{
		limiter:     newTokenBucket(o.clock, capacity, perPeriod, period),
		clients:     make(chan Client, parallelism),
		parallelism: parallelism,
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < parallelism; i++ {
		d.clients <- newClient()
	}
	return d
}

// Download fetches all requests and calls onComplete once per completed
// request, from the calling goroutine only. When ctx is cancelled or the
// downloader is closed, in-flight requests are abandoned without callbacks
// and Download returns nil.
func (d *BatchDownloader[R]) Download(ctx context.Context, requests iter.Seq[R], onComplete CompletionFunc[R]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.ctx, cancel)
	defer stop()

	next, done := iter.Pull(requests)
	defer done()

	results := make(chan fetchResult[R], d.parallelism)
	running := 0
	pending := true

	// request has been pulled from the sequence but not started yet.
	var request R
	held := false
	for {
		if ctx.Err() != nil {
			d.abandon(running, results)
			return nil
		}
		if !held && pending {
			if request, held = next(); !held {
				pending = false
			}
		}
		if running == 0 && !held {
			return nil
		}

		// Completions are delivered while waiting for the next token.
		var tokens <-chan struct{}
		if held && running < d.parallelism {
			tokens = d.limiter.C()
		}

		select {
		case <-tokens:
			client := <-d.clients
			running++
			held = false
			go d.fetch(ctx, client, request, results)
		case r := <-results:
			running--
			d.clients <- r.client
			if ctx.Err() != nil {
				d.abandon(running, results)
				return nil
			}
			onComplete(r.request, r.body, r.statusCode, r.err)
		case <-ctx.Done():
			d.abandon(running, results)
			return nil
		}
	}
}

// abandon waits for the remaining requests to return their clients.
func (d *BatchDownloader[R]) abandon(running int, results <-chan fetchResult[R]) {
	for ; running > 0; running-- {
		r := <-results
		d.clients <- r.client
	}
}

func (d *BatchDownloader[R]) fetch(ctx context.Context, client Client, request R, results chan<- fetchResult[R]) {
	r := fetchResult[R]{request: request, client: client}
	defer func() {
		if p := recover(); p != nil {
			r.statusCode, r.body = 0, nil
			r.err = fmt.Errorf("fetching %s: %v", request.Endpoint(), p)
		}
		results <- r
	}()
	r.statusCode, r.body, r.err = client.Get(ctx, request.Endpoint())
}

// Close cancels a running Download and releases the rate limiter. It is safe
// to call more than once and from any goroutine.
func (d *BatchDownloader[R]) Close() {
	d.cancel()
	d.limiter.Stop()
}
