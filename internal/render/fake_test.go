package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"resume-renderer/internal/config"
	"resume-renderer/internal/infra/chrome"
)

var (
	onePagePDF = minimalPDF(1)
	twoPagePDF = minimalPDF(2)
)

// minimalPDF writes a well-formed PDF with a cross-reference table and the
// given number of blank pages.
func minimalPDF(pages int) string {
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages),
	}
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] >>")
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.String()
}

// fakeTab records calls and answers in-page scripts with canned values.
type fakeTab struct {
	index int
	fail  map[string]error

	mu         sync.Mutex
	calls      []string
	initScript string
	url        string
	content    string
	viewport   [2]int64
	printOpts  chrome.PrintOptions
	closed     int

	measure    measureResult
	markup     markupResult
	stylesheet string
	ready      bool
	pdf        []byte
}

func (t *fakeTab) record(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, name)
	return t.fail[name]
}

func (t *fakeTab) SetViewport(_ context.Context, w, h int64) error {
	t.viewport = [2]int64{w, h}
	return t.record("SetViewport")
}

func (t *fakeTab) AddInitScript(_ context.Context, source string) error {
	t.initScript = source
	return t.record("AddInitScript")
}

func (t *fakeTab) Navigate(_ context.Context, url string) error {
	t.url = url
	return t.record("Navigate")
}

func (t *fakeTab) WaitNetworkIdle(context.Context) error { return t.record("WaitNetworkIdle") }

func (t *fakeTab) WaitVisible(ctx context.Context, _ string) error {
	if err := t.record("WaitVisible"); err != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (t *fakeTab) Evaluate(_ context.Context, expr string, res interface{}) error {
	var (
		name  string
		value interface{}
	)
	switch {
	case strings.Contains(expr, "getBoundingClientRect"):
		name, value = "Evaluate:measure", t.measure
	case strings.Contains(expr, "cloneNode"):
		name, value = "Evaluate:markup", t.markup
	case strings.Contains(expr, "document.styleSheets"):
		name, value = "Evaluate:stylesheet", t.stylesheet
	case strings.Contains(expr, "getAttribute("):
		name, value = "Evaluate:ready", t.ready
	default:
		return errors.New("unexpected script")
	}
	if err := t.record(name); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, res)
}

func (t *fakeTab) SetContent(_ context.Context, html string) error {
	t.content = html
	return t.record("SetContent")
}

func (t *fakeTab) PrintToPDF(_ context.Context, opts chrome.PrintOptions) ([]byte, error) {
	t.printOpts = opts
	if err := t.record("PrintToPDF"); err != nil {
		return nil, err
	}
	return t.pdf, nil
}

func (t *fakeTab) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	return nil
}

// fakeBrowser hands out fakeTabs; failures are keyed by tab index.
type fakeBrowser struct {
	mu       sync.Mutex
	tabs     []*fakeTab
	failures map[int]map[string]error
	pdf      string
	ready    bool
	noRoot   bool
}

func (b *fakeBrowser) NewTab(context.Context) (chrome.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.tabs)
	pdf := b.pdf
	if pdf == "" {
		pdf = onePagePDF
	}
	t := &fakeTab{
		index:      idx,
		fail:       b.failures[idx],
		measure:    measureResult{Found: !b.noRoot, Width: 793.7, Height: 1122.4},
		markup:     markupResult{Found: !b.noRoot, HTML: `<div id="resume-pdf-root" data-x="1"><h1 aria-label="n">Jane Smith</h1><button>Edit</button><input value="x"><script>alert(1)</script></div>`},
		stylesheet: "h1 { color: rgb(10, 20, 30); }\n",
		ready:      b.ready,
		pdf:        []byte(pdf),
	}
	b.tabs = append(b.tabs, t)
	return t, nil
}

func (b *fakeBrowser) Alive() bool  { return true }
func (b *fakeBrowser) Close() error { return nil }

func (b *fakeBrowser) tab(i int) *fakeTab {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tabs[i]
}

type fakeLauncher struct {
	browser *fakeBrowser
	err     error
	delay   time.Duration
}

func (l *fakeLauncher) launch(context.Context) (chrome.Browser, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Render.ReadyTimeout = 20 * time.Millisecond
	cfg.Render.SettleDelay = time.Millisecond
	cfg.Render.ContentSettleDelay = time.Millisecond
	cfg.Render.SelectorTimeout = 20 * time.Millisecond
	cfg.Render.NavigationTimeout = time.Second
	cfg.PDF.TimeoutSecs = 5
	cfg.PDF.AcquireTimeout = 20 * time.Millisecond
	return cfg
}
