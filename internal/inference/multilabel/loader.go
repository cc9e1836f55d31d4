package multilabel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

const (
	defaultLoadAttempts = 3
	defaultRetryDelay   = 2 * time.Second
	defaultLoadTimeout  = 30 * time.Second
)

// LoadFunc builds a classifier. It is not required to honour ctx; the
// loader enforces its own timeout.
type LoadFunc func(ctx context.Context) (Classifier, error)

// Loader loads the classifier at most once. Concurrent first callers share
// one pending load. A failed load is not cached, so the next caller starts
// a fresh one. After Close, a load still in flight releases its classifier
// instead of caching it.
type Loader struct {
	load       LoadFunc
	attempts   int
	retryDelay time.Duration
	timeout    time.Duration

	group singleflight.Group

	mu      sync.Mutex
	model   Classifier
	loading bool
	closed  bool
	loads   int
}

// NewLoader returns a loader. Zero values select 3 attempts, a 2s base
// delay and a 30s per-attempt timeout.
func NewLoader(load LoadFunc, attempts int, retryDelay, timeout time.Duration) *Loader {
	if attempts <= 0 {
		attempts = defaultLoadAttempts
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	if timeout <= 0 {
		timeout = defaultLoadTimeout
	}
	return &Loader{load: load, attempts: attempts, retryDelay: retryDelay, timeout: timeout}
}

// Get returns the loaded classifier, loading it if needed. Cancelling ctx
// abandons the wait but not a load other callers share.
func (l *Loader) Get(ctx context.Context) (Classifier, error) {
	if m := l.cached(); m != nil {
		return m, nil
	}
	if l.isClosed() {
		return nil, errLoaderClosed()
	}

	ch := l.group.DoChan("model", func() (any, error) {
		if m := l.cached(); m != nil {
			return m, nil
		}
		l.setLoading(true)
		defer l.setLoading(false)

		m, err := l.loadWithRetry(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			if cerr := m.Close(); cerr != nil {
				GetLogger().Warn("failed to release model loaded after close", logger.Error(cerr))
			}
			return nil, errLoaderClosed()
		}
		l.model = m
		l.mu.Unlock()
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Classifier), nil
	}
}

// Loaded reports whether a classifier is cached.
func (l *Loader) Loaded() bool { return l.cached() != nil }

// Loading reports whether a load is in progress.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Close releases the cached classifier. Later Get calls fail.
func (l *Loader) Close() error {
	l.mu.Lock()
	m := l.model
	l.model = nil
	l.closed = true
	l.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

func (l *Loader) cached() Classifier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.model
}

func (l *Loader) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func errLoaderClosed() error {
	return errors.Newf("model loader is closed").
		Component("multilabel").
		Category(errors.CategoryModelLoad).
		Build()
}

func (l *Loader) setLoading(v bool) {
	l.mu.Lock()
	l.loading = v
	l.mu.Unlock()
}

func (l *Loader) loadWithRetry(ctx context.Context) (Classifier, error) {
	log := GetLogger()
	var lastErr error
	for attempt := range l.attempts {
		m, err := l.loadOnce(ctx)
		if err == nil {
			return m, nil
		}
		lastErr = err
		log.Warn("model load failed",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", l.attempts),
			logger.Error(err))

		if l.isClosed() {
			break
		}
		if attempt < l.attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.retryDelay * time.Duration(attempt+1)):
			}
		}
	}
	return nil, errors.New(fmt.Errorf("model loading failed after %d attempts: %w", l.attempts, lastErr)).
		Component("multilabel").
		Category(errors.CategoryModelLoad).
		Context("attempts", l.attempts).
		Build()
}

// loadOnce races the load against the timeout. A load that finishes after
// the timeout is closed.
func (l *Loader) loadOnce(ctx context.Context) (Classifier, error) {
	l.mu.Lock()
	l.loads++
	l.mu.Unlock()

	type result struct {
		m   Classifier
		err error
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resultChan := make(chan result, 1)
	go func() {
		m, err := l.load(ctx)
		resultChan <- result{m, err}
	}()

	select {
	case r := <-resultChan:
		return r.m, r.err
	case <-ctx.Done():
		go func() {
			if r := <-resultChan; r.m != nil {
				_ = r.m.Close()
			}
		}()
		return nil, fmt.Errorf("model loading timeout after %s", l.timeout)
	}
}
