package tilepack

import (
	"math"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

const (
	minRequestsPerSec = 0.1
	maxRequestsPerSec = 1000.0

	// Above this rate tokens are added in batches every highRatePeriod.
	highRateThreshold = 20.0
	highRatePeriod    = 100 * time.Millisecond

	minBucketCapacity = 10
	maxBucketCapacity = 1000
)

func clampRate(rate float64) float64 {
	switch {
	case math.IsNaN(rate), math.IsInf(rate, 0), rate > maxRequestsPerSec:
		return maxRequestsPerSec
	case rate < minRequestsPerSec:
		return minRequestsPerSec
	}
	return rate
}

// bucketParams returns the bucket capacity and how many tokens are added
// every period for the given (clamped) rate.
func bucketParams(rate float64, parallelism int) (capacity, perPeriod int, period time.Duration) {
	capacity = int(math.Round(10 * rate))
	capacity = max(minBucketCapacity, min(capacity, maxBucketCapacity))
	capacity = max(capacity, parallelism)

	if rate > highRateThreshold {
		return capacity, int(math.Round(rate / 10)), highRatePeriod
	}
	return capacity, 1, time.Duration(float64(time.Second) / rate)
}

// tokenBucket admits one request per token. A ticker refills it and surplus
// tokens are dropped once the bucket is full.
type tokenBucket struct {
	tokens chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func newTokenBucket(clk clock.Clock, capacity, perPeriod int, period time.Duration) *tokenBucket {
	b := &tokenBucket{
		tokens: make(chan struct{}, capacity),
		stop:   make(chan struct{}),
	}
	b.tokens <- struct{}{}

	go b.refill(clk.Ticker(period), perPeriod)
	return b
}

func (b *tokenBucket) refill(ticker *clock.Ticker, perPeriod int) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for i := 0; i < perPeriod; i++ {
				select {
				case b.tokens <- struct{}{}:
				default:
				}
			}
		case <-b.stop:
			return
		}
	}
}

// C delivers one token per admitted request. It is never closed.
func (b *tokenBucket) C() <-chan struct{} {
	return b.tokens
}

// Stop ends the refill goroutine. It may be called more than once.
func (b *tokenBucket) Stop() {
	b.once.Do(func() { close(b.stop) })
}
