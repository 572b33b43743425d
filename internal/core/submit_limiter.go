package core

// submit_limiter.go bounds how many batches are posted to the ingestion
// endpoint at once. When every slot is taken a submission waits up to
// maxWait before failing with ErrTooManySubmissions. WaitForDrain lets
// shutdown wait for in-flight submissions.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTooManySubmissions is returned when no submission slot frees up in time.
var ErrTooManySubmissions = errors.New("too many submissions in progress, please try again later")

const (
	// DefaultMaxConcurrentSubmissions is the default number of parallel submissions.
	DefaultMaxConcurrentSubmissions = 5

	// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
	DefaultMaxWaitTime = 30 * time.Second

	drainPollInterval = 50 * time.Millisecond
)

// SubmitLimiter is a semaphore over outbound submissions.
type SubmitLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int32
}

// NewSubmitLimiter allows at most maxConcurrent submissions; callers wait at
// most maxWait for a slot. Non-positive values select the defaults.
func NewSubmitLimiter(maxConcurrent int, maxWait time.Duration) *SubmitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSubmissions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &SubmitLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot and returns the function that gives it back. The
// release function is safe to call more than once.
func (l *SubmitLimiter) Acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return l.take(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTooManySubmissions
	}
}

func (l *SubmitLimiter) take() func() {
	l.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Add(-1)
			<-l.slots
		})
	}
}

// Active returns the number of submissions holding a slot.
func (l *SubmitLimiter) Active() int { return int(l.active.Load()) }

// MaxConcurrent returns the slot count.
func (l *SubmitLimiter) MaxConcurrent() int { return cap(l.slots) }

// WaitForDrain blocks until no submission holds a slot or ctx ends.
func (l *SubmitLimiter) WaitForDrain(ctx context.Context) error {
	if l.Active() == 0 {
		return nil
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Active() == 0 {
				return nil
			}
		}
	}
}

// SubmitLimiterStatus is a snapshot for the status endpoint.
type SubmitLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *SubmitLimiter) Status() SubmitLimiterStatus {
	return SubmitLimiterStatus{
		Active:        l.Active(),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
