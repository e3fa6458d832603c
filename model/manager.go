package model

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/scanstreams/errors"
	"github.com/c360/scanstreams/pkg/retry"
)

// SourceManager caches open Source sessions, keyed by Source identity. The
// first Open of a Source performs the actual acquisition; subsequent Opens
// of an equal Source share the cookie. Close tears sessions down in reverse
// open order, which matters for derived Sources whose session depends on
// their parent's.
type SourceManager struct {
	mu       sync.Mutex
	sessions map[string]*session
	order    []string
	cleanups []func() error
	closed   bool

	retryCfg retry.Config
	logger   *slog.Logger
}

type session struct {
	source Source
	cookie Cookie
	err    error
	done   chan struct{}
}

// ManagerOption configures a SourceManager
type ManagerOption func(*SourceManager)

// WithRetryConfig sets the retry policy applied to transient open failures
func WithRetryConfig(cfg retry.Config) ManagerOption {
	return func(sm *SourceManager) { sm.retryCfg = cfg }
}

// WithManagerLogger sets the logger used for session lifecycle events
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(sm *SourceManager) { sm.logger = logger }
}

// NewSourceManager creates an empty SourceManager
func NewSourceManager(opts ...ManagerOption) *SourceManager {
	sm := &SourceManager{
		sessions: make(map[string]*session),
		retryCfg: retry.DefaultConfig(),
		logger:   slog.Default().With("component", "SourceManager"),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

func sourceKey(src Source) (string, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return "", errors.WrapInvalid(err, "SourceManager", "sourceKey", "serialize source")
	}
	return string(data), nil
}

// Open returns the session cookie for a Source, acquiring it on first use.
// Transient acquisition faults (a busy server, a flaky mount) are retried
// with backoff before the error is surfaced. A failed session is not cached:
// a later Open attempts acquisition again.
//
// Open may be re-entered from a Source's own Open method, which is how
// derived Sources chain onto their parent's session.
func (sm *SourceManager) Open(ctx context.Context, src Source) (Cookie, error) {
	key, err := sourceKey(src)
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return nil, errors.WrapInvalid(
			fmt.Errorf("manager is closed"),
			"SourceManager", "Open", "open source after close")
	}
	if existing, ok := sm.sessions[key]; ok {
		sm.mu.Unlock()
		select {
		case <-existing.done:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "SourceManager", "Open", "wait for in-flight open")
		}
		return existing.cookie, existing.err
	}
	s := &session{source: src, done: make(chan struct{})}
	sm.sessions[key] = s
	sm.mu.Unlock()

	// Acquisition runs without the lock held so chained opens can recurse.
	s.cookie, s.err = retry.DoWithResult(ctx, sm.retryCfg, func() (Cookie, error) {
		cookie, openErr := src.Open(ctx, sm)
		if openErr != nil && !errors.IsTransient(openErr) {
			return nil, retry.NonRetryable(openErr)
		}
		return cookie, openErr
	})
	close(s.done)

	sm.mu.Lock()
	if s.err != nil {
		delete(sm.sessions, key)
		sm.mu.Unlock()
		sm.logger.Warn("source open failed",
			"scheme", src.Scheme(), "error", s.err)
		return nil, s.err
	}
	sm.order = append(sm.order, key)
	sm.mu.Unlock()

	sm.logger.Debug("source opened", "scheme", src.Scheme())
	return s.cookie, nil
}

// Defer registers a cleanup to run when the manager closes. Cleanups run
// after all sessions are closed, in reverse registration order. Used for
// staged temporary files tied to the manager's scope.
func (sm *SourceManager) Defer(cleanup func() error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cleanups = append(sm.cleanups, cleanup)
}

// Close tears down all open sessions in reverse open order, then runs
// deferred cleanups. Every session is closed even when earlier closes fail;
// the combined error is returned.
func (sm *SourceManager) Close() error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return nil
	}
	sm.closed = true
	order := sm.order
	sessions := sm.sessions
	cleanups := sm.cleanups
	sm.order = nil
	sm.sessions = make(map[string]*session)
	sm.cleanups = nil
	sm.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		s := sessions[order[i]]
		if s == nil || s.err != nil {
			continue
		}
		if err := s.source.Close(s.cookie); err != nil {
			sm.logger.Warn("source close failed",
				"scheme", s.source.Scheme(), "error", err)
			errs = append(errs, errors.Wrap(err, "SourceManager", "Close",
				fmt.Sprintf("close %s session", s.source.Scheme())))
		}
	}

	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, errors.Wrap(err, "SourceManager", "Close", "run cleanup"))
		}
	}

	return stderrors.Join(errs...)
}
