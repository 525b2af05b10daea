package agenthub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/metrics"
)

// waitCoordinator runs bounded-wait polling loops. Per watched key it keeps a
// best-effort in-memory waiter count; once the cap is reached further waits
// are rejected immediately instead of queueing. The counters are not durable
// and reset on restart, which is acceptable: they exist to shed load, not to
// guarantee correctness.
type waitCoordinator struct {
	mu       sync.Mutex
	counts   map[string]int
	cap      int
	interval time.Duration
	maxWait  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func newWaitCoordinator(cap int, interval, maxWait time.Duration, logger zerolog.Logger, m *metrics.Metrics) *waitCoordinator {
	if cap <= 0 {
		cap = 5
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = time.Minute
	}
	return &waitCoordinator{
		counts:   map[string]int{},
		cap:      cap,
		interval: interval,
		maxWait:  maxWait,
		logger:   logger.With().Str("component", "agenthub.wait").Logger(),
		metrics:  m,
	}
}

func (c *waitCoordinator) acquireSlot(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[key] >= c.cap {
		return &Error{
			Kind:    KindConflict,
			Code:    CodeTooManyRequests,
			Message: "too many concurrent wait requests for this key",
			Details: map[string]any{"key": key, "limit": c.cap},
		}
	}
	c.counts[key]++
	return nil
}

func (c *waitCoordinator) releaseSlot(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[key] <= 1 {
		delete(c.counts, key)
	} else {
		c.counts[key]--
	}
}

// await polls until poll reports done, a caller-facing failure occurs, or
// the timeout elapses. A timeout is not an error: await returns done=false,
// err=nil and the caller maps that to an explicit empty result. Not-found
// errors from poll are treated as "not yet" and retried; permission and
// validation errors short-circuit, since no amount of waiting fixes them.
//
// watchDir, when non-empty, is watched with fsnotify so a relevant filesystem
// event wakes the loop before the next tick. The watcher is best-effort; if
// it cannot be created the loop degrades to plain interval polling. No lock
// is ever held while sleeping here.
func (c *waitCoordinator) await(ctx context.Context, key, watchDir string, timeout time.Duration, poll func() (bool, error)) (bool, error) {
	if timeout <= 0 || timeout > c.maxWait {
		timeout = c.maxWait
	}
	if err := c.acquireSlot(key); err != nil {
		return false, err
	}
	defer c.releaseSlot(key)
	c.metrics.WaiterStarted()
	defer c.metrics.WaiterFinished()

	var events chan struct{}
	if watchDir != "" {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			if err := watcher.Add(watchDir); err != nil {
				watcher.Close()
			} else {
				events = make(chan struct{}, 1)
				go forwardEvents(watcher, events)
				defer watcher.Close()
			}
		} else {
			c.logger.Debug().Err(err).Str("key", key).Msg("fsnotify unavailable, falling back to interval polling")
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		done, err := poll()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Absent is exactly what the caller is waiting on.
			} else {
				return false, err
			}
		}
		if done {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		sleep := c.interval
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, nil
		case <-events:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func forwardEvents(watcher *fsnotify.Watcher, out chan<- struct{}) {
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
