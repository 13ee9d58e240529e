package chrome

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"resume-renderer/internal/config"
	"resume-renderer/internal/infra/logging"
)

const idlePollInterval = 50 * time.Millisecond

// NewLauncher returns a Launcher that starts headless Chrome through chromedp
// with a throwaway profile directory.
func NewLauncher(cfg config.Config) Launcher {
	return func(ctx context.Context) (Browser, error) {
		profileDir, err := createProfileDir(cfg)
		if err != nil {
			return nil, err
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg, profileDir)...)
		browserCtx, cancel := chromedp.NewContext(allocCtx,
			chromedp.WithErrorf(func(format string, args ...interface{}) {
				logging.Debug("chromedp", "message", fmt.Sprintf(format, args...))
			}),
		)

		b := &cdpBrowser{
			ctx:         browserCtx,
			cancel:      cancel,
			allocCancel: allocCancel,
			profileDir:  profileDir,
			quiet:       cfg.Render.NetworkQuiet,
		}

		// The first Run starts the process and must not be bound to a request
		// deadline, otherwise the browser dies with the request.
		started := make(chan error, 1)
		go func() { started <- chromedp.Run(browserCtx) }()

		select {
		case err := <-started:
			if err != nil {
				_ = b.Close()
				return nil, err
			}
		case <-ctx.Done():
			_ = b.Close()
			return nil, ctx.Err()
		}
		return b, nil
	}
}

func allocatorOptions(cfg config.Config, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Software rendering only; containers rarely expose a usable GPU.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if !cfg.PDF.ChromeSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.PDF.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.PDF.ChromePath))
	}
	return opts
}

// createProfileDir makes a fresh user data directory under the configured
// base, or under the system temp dir when none is set.
func createProfileDir(cfg config.Config) (string, error) {
	base := cfg.PDF.UserDataDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create chrome profile base %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "chrome-profile-*")
	if err != nil {
		return "", fmt.Errorf("create chrome profile dir: %w", err)
	}
	return dir, nil
}

type cdpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	profileDir  string
	quiet       time.Duration

	once sync.Once
	err  error
}

func (b *cdpBrowser) Alive() bool {
	return b.ctx.Err() == nil
}

func (b *cdpBrowser) NewTab(ctx context.Context) (Tab, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser session closed: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx)
	created := make(chan error, 1)
	go func() { created <- chromedp.Run(tabCtx) }()

	select {
	case err := <-created:
		if err != nil {
			cancel()
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	t := &cdpTab{ctx: tabCtx, cancel: cancel, quiet: b.quiet, net: newNetTracker()}
	chromedp.ListenTarget(tabCtx, t.net.handle)
	if err := t.run(ctx, network.Enable()); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("enable network events: %w", err)
	}
	return t, nil
}

func (b *cdpBrowser) Close() error {
	b.once.Do(func() {
		b.err = chromedp.Cancel(b.ctx)
		b.cancel()
		b.allocCancel()
		if b.profileDir != "" {
			if err := os.RemoveAll(b.profileDir); err != nil {
				logging.Warn("Failed to remove chrome profile dir", "dir", b.profileDir, "error", err)
			}
		}
	})
	return b.err
}

type cdpTab struct {
	ctx    context.Context
	cancel context.CancelFunc
	quiet  time.Duration
	net    *netTracker
	once   sync.Once
}

// bind derives a context that targets this tab but ends with ctx.
func (t *cdpTab) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(t.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		inner := cancel
		cancel = func() { cancelDL(); inner() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (t *cdpTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := t.bind(ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *cdpTab) SetViewport(ctx context.Context, width, height int64) error {
	return t.run(ctx, chromedp.EmulateViewport(width, height))
}

func (t *cdpTab) AddInitScript(ctx context.Context, source string) error {
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
}

func (t *cdpTab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

func (t *cdpTab) WaitNetworkIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if t.net.idleFor(time.Now()) >= t.quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.ctx.Done():
			return fmt.Errorf("target closed: %w", t.ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *cdpTab) WaitVisible(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (t *cdpTab) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return t.run(ctx, chromedp.Evaluate(expression, res))
}

func (t *cdpTab) SetContent(ctx context.Context, html string) error {
	return t.run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (t *cdpTab) PrintToPDF(ctx context.Context, opts PrintOptions) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().
			WithPrintBackground(opts.PrintBackground).
			WithPreferCSSPageSize(opts.PreferCSSPageSize).
			WithDisplayHeaderFooter(opts.DisplayHeaderFooter).
			WithPaperWidth(opts.PaperWidth).
			WithPaperHeight(opts.PaperHeight).
			WithMarginTop(opts.Margin).
			WithMarginBottom(opts.Margin).
			WithMarginLeft(opts.Margin).
			WithMarginRight(opts.Margin).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *cdpTab) Close() error {
	t.once.Do(func() {
		_ = chromedp.Cancel(t.ctx)
		t.cancel()
	})
	return nil
}

// netTracker counts in-flight requests from network domain events.
type netTracker struct {
	mu         sync.Mutex
	inflight   map[network.RequestID]struct{}
	lastChange time.Time
}

func newNetTracker() *netTracker {
	return &netTracker{
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: time.Now(),
	}
}

func (n *netTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request != nil && strings.HasPrefix(e.Request.URL, "data:") {
			return
		}
		n.start(e.RequestID)
	case *network.EventLoadingFinished:
		n.finish(e.RequestID)
	case *network.EventLoadingFailed:
		n.finish(e.RequestID)
	}
}

func (n *netTracker) start(id network.RequestID) {
	n.mu.Lock()
	n.inflight[id] = struct{}{}
	n.lastChange = time.Now()
	n.mu.Unlock()
}

func (n *netTracker) finish(id network.RequestID) {
	n.mu.Lock()
	if _, ok := n.inflight[id]; ok {
		delete(n.inflight, id)
		n.lastChange = time.Now()
	}
	n.mu.Unlock()
}

// idleFor is how long no request has been in flight, or 0 while one is.
func (n *netTracker) idleFor(now time.Time) time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.inflight) > 0 {
		return 0
	}
	return now.Sub(n.lastChange)
}
