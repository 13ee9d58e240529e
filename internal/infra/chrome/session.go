package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"resume-renderer/internal/config"
	"resume-renderer/internal/domain"
	"resume-renderer/internal/infra/logging"
)

// Session owns the single shared browser process. The browser is launched
// on first use and reused until Shutdown; requests only ever borrow tabs.
type Session struct {
	launch         Launcher
	acquireTimeout time.Duration

	mu         sync.Mutex
	browser    Browser
	closed     bool
	lastLaunch time.Time

	launches       atomic.Int64
	launchFailures atomic.Int64
	openTabs       atomic.Int64

	// slots holds one token per concurrent render; nil means uncapped.
	slots chan struct{}
}

// Stats is a point-in-time view of the session.
type Stats struct {
	Alive          bool      `json:"alive"`
	Closed         bool      `json:"closed"`
	Launches       int64     `json:"launches"`
	LaunchFailures int64     `json:"launch_failures"`
	OpenTabs       int64     `json:"open_tabs"`
	Capacity       int       `json:"capacity"`
	InUse          int       `json:"in_use"`
	LastLaunch     time.Time `json:"last_launch,omitempty"`
}

// NewSession prepares a session; nothing is launched until the first render.
func NewSession(cfg config.Config, launch Launcher) *Session {
	s := &Session{
		launch:         launch,
		acquireTimeout: cfg.PDF.AcquireTimeout,
	}
	if n := cfg.PDF.MaxConcurrentRenders; n > 0 {
		s.slots = make(chan struct{}, n)
		for i := 0; i < n; i++ {
			s.slots <- struct{}{}
		}
	}
	return s
}

// Browser returns the shared browser, launching it on first call or after
// the previous process died. A failed launch is not cached.
func (s *Session) Browser(ctx context.Context) (Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.browser != nil {
		if s.browser.Alive() {
			return s.browser, nil
		}
		logging.Warn("Browser process is gone, relaunching")
		_ = s.browser.Close()
		s.browser = nil
	}

	s.launches.Add(1)
	started := time.Now()
	b, err := s.launch(ctx)
	if err != nil {
		s.launchFailures.Add(1)
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	s.browser = b
	s.lastLaunch = time.Now()
	logging.Info("Browser launched", "launches", s.launches.Load(), "duration_ms", time.Since(started).Milliseconds())
	return b, nil
}

// NewTab opens a tab in the shared browser. The caller must Close it.
func (s *Session) NewTab(ctx context.Context) (Tab, error) {
	b, err := s.Browser(ctx)
	if err != nil {
		return nil, err
	}
	tab, err := b.NewTab(ctx)
	if err != nil {
		if ctx.Err() == nil && IsSessionInterrupted(err) {
			s.forget(b)
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}
	s.openTabs.Add(1)
	return &trackedTab{Tab: tab, session: s}, nil
}

// forget drops b from the cache so the next request relaunches.
func (s *Session) forget(b Browser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != b {
		return
	}
	logging.Warn("Browser session interrupted, dropping cached browser")
	_ = s.browser.Close()
	s.browser = nil
}

// Reserve takes one render slot, waiting at most the acquire timeout. The
// returned release func is idempotent.
func (s *Session) Reserve(ctx context.Context) (func(), error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, domain.ErrSessionClosed
	}
	if s.slots == nil {
		return func() {}, nil
	}

	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	select {
	case <-s.slots:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrRenderBusy
		}
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.slots <- struct{}{} })
	}, nil
}

// Shutdown closes the browser and refuses further use. Safe to call twice.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	logging.Info("Browser session closed", "launches", s.launches.Load())
	return err
}

// Launches is the number of launch attempts so far.
func (s *Session) Launches() int64 { return s.launches.Load() }

// OpenTabs is the number of tabs currently borrowed and not yet closed.
func (s *Session) OpenTabs() int64 { return s.openTabs.Load() }

// Stats reports the session state.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Alive:      s.browser != nil && s.browser.Alive(),
		Closed:     s.closed,
		LastLaunch: s.lastLaunch,
	}
	s.mu.Unlock()

	st.Launches = s.launches.Load()
	st.LaunchFailures = s.launchFailures.Load()
	st.OpenTabs = s.openTabs.Load()
	if s.slots != nil {
		st.Capacity = cap(s.slots)
		st.InUse = cap(s.slots) - len(s.slots)
	}
	return st
}

type trackedTab struct {
	Tab
	session *Session
	once    sync.Once
	err     error
}

func (t *trackedTab) Close() error {
	t.once.Do(func() {
		t.err = t.Tab.Close()
		t.session.openTabs.Add(-1)
	})
	return t.err
}
