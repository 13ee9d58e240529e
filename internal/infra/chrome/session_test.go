package chrome

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-renderer/internal/config"
	"resume-renderer/internal/domain"
)

type stubTab struct {
	closes atomic.Int32
}

func (t *stubTab) SetViewport(context.Context, int64, int64) error          { return nil }
func (t *stubTab) AddInitScript(context.Context, string) error              { return nil }
func (t *stubTab) Navigate(context.Context, string) error                   { return nil }
func (t *stubTab) WaitNetworkIdle(context.Context) error                    { return nil }
func (t *stubTab) WaitVisible(context.Context, string) error                { return nil }
func (t *stubTab) Evaluate(context.Context, string, interface{}) error      { return nil }
func (t *stubTab) SetContent(context.Context, string) error                 { return nil }
func (t *stubTab) PrintToPDF(context.Context, PrintOptions) ([]byte, error) { return nil, nil }
func (t *stubTab) Close() error {
	t.closes.Add(1)
	return nil
}

type stubBrowser struct {
	dead   atomic.Bool
	closed atomic.Int32
	tabErr error
}

func (b *stubBrowser) NewTab(context.Context) (Tab, error) {
	if b.tabErr != nil {
		return nil, b.tabErr
	}
	return &stubTab{}, nil
}

func (b *stubBrowser) Alive() bool { return !b.dead.Load() }

func (b *stubBrowser) Close() error {
	b.closed.Add(1)
	return nil
}

type stubLauncher struct {
	mu       sync.Mutex
	browsers []*stubBrowser
	err      error
	delay    time.Duration
}

func (l *stubLauncher) launch(ctx context.Context) (Browser, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	b := &stubBrowser{}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func testConfig(maxRenders int) config.Config {
	cfg := config.Default()
	cfg.PDF.MaxConcurrentRenders = maxRenders
	cfg.PDF.AcquireTimeout = 20 * time.Millisecond
	cfg.PDF.UserDataDir = filepath.Join(os.TempDir(), "resume-renderer-chrome-tests")
	return cfg
}

func TestSession_LaunchesOnceForConcurrentCallers(t *testing.T) {
	l := &stubLauncher{delay: 20 * time.Millisecond}
	s := NewSession(testConfig(0), l.launch)

	var wg sync.WaitGroup
	got := make([]Browser, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := s.Browser(context.Background())
			assert.NoError(t, err)
			got[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), s.Launches())
	for _, b := range got {
		assert.Same(t, got[0], b)
	}
}

func TestSession_LaunchFailureIsNotCached(t *testing.T) {
	l := &stubLauncher{err: errors.New("exec: chrome not found")}
	s := NewSession(testConfig(0), l.launch)

	_, err := s.Browser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome not found")

	l.mu.Lock()
	l.err = nil
	l.mu.Unlock()

	b, err := s.Browser(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b)

	st := s.Stats()
	assert.Equal(t, int64(2), st.Launches)
	assert.Equal(t, int64(1), st.LaunchFailures)
	assert.True(t, st.Alive)
}

func TestSession_RelaunchesDeadBrowser(t *testing.T) {
	l := &stubLauncher{}
	s := NewSession(testConfig(0), l.launch)

	first, err := s.Browser(context.Background())
	require.NoError(t, err)
	first.(*stubBrowser).dead.Store(true)

	second, err := s.Browser(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(1), first.(*stubBrowser).closed.Load())
	assert.Equal(t, int64(2), s.Launches())
}

func TestSession_NewTabTracksOpenTabs(t *testing.T) {
	s := NewSession(testConfig(0), (&stubLauncher{}).launch)

	a, err := s.NewTab(context.Background())
	require.NoError(t, err)
	b, err := s.NewTab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.OpenTabs())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, int64(1), s.OpenTabs())
	assert.Equal(t, int32(1), a.(*trackedTab).Tab.(*stubTab).closes.Load())

	require.NoError(t, b.Close())
	assert.Equal(t, int64(0), s.OpenTabs())
}

func TestSession_NewTabDropsInterruptedBrowser(t *testing.T) {
	l := &stubLauncher{}
	s := NewSession(testConfig(0), l.launch)

	b, err := s.Browser(context.Background())
	require.NoError(t, err)
	b.(*stubBrowser).tabErr = errors.New("websocket: close 1006")

	_, err = s.NewTab(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), b.(*stubBrowser).closed.Load())

	next, err := s.Browser(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, b, next)
}

func TestSession_ReserveCapsConcurrency(t *testing.T) {
	s := NewSession(testConfig(1), (&stubLauncher{}).launch)

	release, err := s.Reserve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().InUse)

	_, err = s.Reserve(context.Background())
	assert.ErrorIs(t, err, domain.ErrRenderBusy)

	release()
	release()
	st := s.Stats()
	assert.Equal(t, 0, st.InUse)
	assert.Equal(t, 1, st.Capacity)

	again, err := s.Reserve(context.Background())
	require.NoError(t, err)
	again()
}

func TestSession_ReserveHonoursCallerCancel(t *testing.T) {
	s := NewSession(testConfig(1), (&stubLauncher{}).launch)
	release, err := s.Reserve(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Reserve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_ReserveUncapped(t *testing.T) {
	s := NewSession(testConfig(0), (&stubLauncher{}).launch)
	for i := 0; i < 5; i++ {
		release, err := s.Reserve(context.Background())
		require.NoError(t, err)
		defer release()
	}
	assert.Equal(t, 0, s.Stats().Capacity)
}

func TestSession_ShutdownIsIdempotent(t *testing.T) {
	l := &stubLauncher{}
	s := NewSession(testConfig(1), l.launch)

	_, err := s.Browser(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())
	assert.Equal(t, int32(1), l.browsers[0].closed.Load())

	_, err = s.Browser(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	_, err = s.NewTab(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	_, err = s.Reserve(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	st := s.Stats()
	assert.True(t, st.Closed)
	assert.False(t, st.Alive)
}

func TestSession_ShutdownWithoutLaunch(t *testing.T) {
	l := &stubLauncher{}
	s := NewSession(testConfig(0), l.launch)
	require.NoError(t, s.Shutdown())
	assert.Equal(t, int64(0), s.Launches())
	assert.Empty(t, l.browsers)
}

func TestCreateProfileDir_DefaultAndCustomBase(t *testing.T) {
	cfg := testConfig(1)
	cfg.PDF.UserDataDir = ""
	dir1, err := createProfileDir(cfg)
	require.NoError(t, err)
	defer os.RemoveAll(dir1)
	_, err = os.Stat(dir1)
	require.NoError(t, err)

	customBase := t.TempDir()
	cfg.PDF.UserDataDir = customBase
	dir2, err := createProfileDir(cfg)
	require.NoError(t, err)
	defer os.RemoveAll(dir2)
	assert.Equal(t, customBase, filepath.Dir(dir2))
}

func TestCreateProfileDir_InvalidBase(t *testing.T) {
	var cfg config.Config
	cfg.PDF.UserDataDir = "/dev/null/x"
	_, err := createProfileDir(cfg)
	assert.Error(t, err)
}

func TestIsSessionInterrupted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "target closed", err: errors.New("target closed"), want: true},
		{name: "websocket", err: errors.New("websocket: close 1006 (abnormal closure)"), want: true},
		{name: "normal error", err: errors.New("validation failed"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSessionInterrupted(tc.err))
		})
	}
}
