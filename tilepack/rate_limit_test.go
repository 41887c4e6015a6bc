package tilepack

import (
	"math"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

func TestClampRate(t *testing.T) {
	tests := []struct {
		rate float64
		want float64
	}{
		{5, 5},
		{0.01, 0.1},
		{-3, 0.1},
		{5000, 1000},
		{math.Inf(1), 1000},
		{math.NaN(), 1000},
	}
	for _, tt := range tests {
		if got := clampRate(tt.rate); got != tt.want {
			t.Errorf("clampRate(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestBucketParams(t *testing.T) {
	tests := []struct {
		name          string
		rate          float64
		parallelism   int
		wantCapacity  int
		wantPerPeriod int
		wantPeriod    time.Duration
	}{
		{"slow", 5, 3, 50, 1, 200 * time.Millisecond},
		{"minimum", 0.1, 1, 10, 1, 10 * time.Second},
		{"threshold", 20, 1, 200, 1, 50 * time.Millisecond},
		{"batched", 21, 1, 210, 2, 100 * time.Millisecond},
		{"fast", 100, 5, 1000, 10, 100 * time.Millisecond},
		{"parallelism above capacity", 1000, 2000, 2000, 100, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capacity, perPeriod, period := bucketParams(tt.rate, tt.parallelism)
			if capacity != tt.wantCapacity || perPeriod != tt.wantPerPeriod || period != tt.wantPeriod {
				t.Errorf("bucketParams() = %d, %d, %v, want %d, %d, %v",
					capacity, perPeriod, period, tt.wantCapacity, tt.wantPerPeriod, tt.wantPeriod)
			}
		})
	}
}

func takeToken(b *tokenBucket, wait time.Duration) bool {
	select {
	case <-b.C():
		return true
	case <-time.After(wait):
		return false
	}
}

func TestTokenBucket(t *testing.T) {
	mock := clock.NewMock()
	b := newTokenBucket(mock, 2, 1, time.Second)
	defer b.Stop()

	if !takeToken(b, time.Second) {
		t.Fatal("bucket starts empty, want one token")
	}
	if takeToken(b, 50*time.Millisecond) {
		t.Fatal("got a second token before the first refill")
	}

	mock.Add(time.Second)
	if !takeToken(b, time.Second) {
		t.Fatal("no token after refill")
	}
}

func TestTokenBucketCapacity(t *testing.T) {
	mock := clock.NewMock()
	b := newTokenBucket(mock, 2, 5, time.Second)
	defer b.Stop()

	mock.Add(time.Second)

	deadline := time.Now().Add(time.Second)
	for len(b.tokens) < cap(b.tokens) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := len(b.tokens); got != 2 {
		t.Errorf("bucket holds %d tokens, want 2", got)
	}
}

func TestTokenBucketStopped(t *testing.T) {
	mock := clock.NewMock()
	b := newTokenBucket(mock, 2, 1, time.Second)
	b.Stop()
	b.Stop()
	time.Sleep(10 * time.Millisecond) // let the refill goroutine exit

	if !takeToken(b, time.Second) {
		t.Fatal("stopped bucket lost its initial token")
	}
	mock.Add(time.Second)
	if takeToken(b, 50*time.Millisecond) {
		t.Error("stopped bucket was refilled")
	}
}
