package render

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-renderer/internal/domain"
)

func TestScrubMarkup_RemovesInteractiveElements(t *testing.T) {
	in := `<div id="resume-pdf-root" data-testid="root" aria-hidden="false" style="color: red">` +
		`<h1 onclick="edit()">Jane Smith</h1>` +
		`<button type="button">Edit</button>` +
		`<input type="text" value="x">` +
		`<select><option>A</option></select>` +
		`<textarea>notes</textarea>` +
		`<p contenteditable="true">draft</p>` +
		`<p contenteditable="false">kept</p>` +
		`<script>alert(1)</script><style>h1{}</style>` +
		`<!-- comment -->` +
		`<ul><li data-idx="0">Go</li></ul>` +
		`</div>`

	out, err := ScrubMarkup(in)
	require.NoError(t, err)

	for _, banned := range []string{"<button", "<input", "<select", "<textarea", "<script", "<style", "draft", "data-", "aria-", "onclick", "comment"} {
		assert.NotContains(t, out, banned)
	}
	assert.Contains(t, out, `<div id="resume-pdf-root" style="color: red">`)
	assert.Contains(t, out, "Jane Smith")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "<li>Go</li>")
}

func TestScrubMarkup_TopLevelDrop(t *testing.T) {
	out, err := ScrubMarkup(`<script>x()</script><div>ok</div>`)
	require.NoError(t, err)
	assert.Equal(t, "<div>ok</div>", out)
}

func TestCountPages(t *testing.T) {
	n, err := CountPages([]byte(onePagePDF))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = CountPages([]byte(twoPagePDF))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CountPages([]byte(minimalPDF(5)))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = CountPages([]byte("%PDF-1.4\n%%EOF"))
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestBuildDocument_EmbedsOverrides(t *testing.T) {
	doc := &domain.RenderedDocument{
		Markup:     `<div id="resume-pdf-root">Jane</div>`,
		Stylesheet: "h1 { color: blue; }\n.x::after { content: \"</style>\"; }",
	}
	html := BuildDocument(doc, "#resume-pdf-root")

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "h1 { color: blue; }")
	assert.Contains(t, html, `<\/style>`)
	assert.Equal(t, 2, strings.Count(html, "</style>"))
	assert.Contains(t, html, "-webkit-print-color-adjust: exact !important;")
	assert.Contains(t, html, "print-color-adjust: exact !important;")
	assert.Contains(t, html, "box-shadow: none !important;")
	assert.Contains(t, html, "animation: none !important;")
	assert.Contains(t, html, "#resume-pdf-root {\n  margin: 0 !important;")
	assert.Contains(t, html, "width: 100% !important;")
	assert.Contains(t, html, "height: auto !important;")
	assert.Contains(t, html, `.md\:grid-cols-2`)
	assert.Contains(t, html, `[style*="overflow: hidden"], [style*="overflow:hidden"]`)
	assert.Contains(t, html, `[style*="overflow-x: hidden"], [style*="overflow-y: hidden"]`)
	assert.NotContains(t, html, "%!")

	stylesAt := strings.Index(html, "h1 { color: blue; }")
	overridesAt := strings.Index(html, "print-color-adjust")
	bodyAt := strings.Index(html, `<div id="resume-pdf-root">`)
	assert.True(t, stylesAt < overridesAt && overridesAt < bodyAt)
}

// The root's inline style is its computed style, which spells overflow as
// longhands only.
func TestBuildDocument_UnclipsComputedOverflow(t *testing.T) {
	doc := &domain.RenderedDocument{
		Markup: `<div id="resume-pdf-root" style="display: block; overflow-x: hidden; overflow-y: hidden; ">Jane</div>`,
	}
	html := BuildDocument(doc, "#resume-pdf-root")

	start := strings.Index(html, `[style*="overflow-x: hidden"]`)
	require.GreaterOrEqual(t, start, 0)
	rule := html[start:]
	rule = rule[:strings.Index(rule, "}")]
	assert.Contains(t, rule, `[style*="overflow-y: hidden"]`)
	assert.Contains(t, rule, "overflow: visible !important;")
}

func TestNavigator_RenderURLAndInitScript(t *testing.T) {
	cfg := testConfig()
	cfg.Render.BaseURL = "https://app.example.com/"
	n := NewNavigator(cfg)

	u, err := n.RenderURL("modern & clean")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/pdf-render?pdf=true&template=modern+%26+clean", u)

	script, err := n.InitScript(json.RawMessage(`{"name":"</script><b>"}`))
	require.NoError(t, err)
	assert.Contains(t, script, `window.location.origin !== "https://app.example.com"`)
	assert.Contains(t, script, `localStorage.setItem("resumeData", `)
	assert.Contains(t, script, `localStorage.setItem("pdfRenderMode", "true")`)
	assert.NotContains(t, script, "</script>")

	_, err = n.InitScript(json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestNavigator_InitScriptOriginDropsDefaultPort(t *testing.T) {
	cases := map[string]string{
		"http://localhost:80":          "http://localhost",
		"https://app:443/":             "https://app",
		"http://frontend:5173":         "http://frontend:5173",
		"https://app:80":               "https://app:80",
		"HTTP://Frontend.Example.com/": "http://frontend.example.com",
		"http://[::1]:80":              "http://[::1]",
	}
	for base, want := range cases {
		cfg := testConfig()
		cfg.Render.BaseURL = base
		script, err := NewNavigator(cfg).InitScript(json.RawMessage(`{}`))
		require.NoError(t, err, base)
		assert.Contains(t, script, `window.location.origin !== "`+want+`"`, base)
	}
}

type readyAfterTab struct {
	fakeTab
	after int
	polls int
}

func (t *readyAfterTab) Evaluate(_ context.Context, _ string, res interface{}) error {
	t.polls++
	*(res.(*bool)) = t.polls >= t.after
	return nil
}

func TestWaitForRenderReady(t *testing.T) {
	tab := &readyAfterTab{after: 3}
	ok, err := waitForRenderReady(context.Background(), tab, "x", time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, tab.polls)

	never := &readyAfterTab{after: 1 << 30}
	ok, err = waitForRenderReady(context.Background(), never, "x", 10*time.Millisecond, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = waitForRenderReady(ctx, never, "x", time.Second, time.Millisecond)
	assert.True(t, errors.Is(err, context.Canceled))

	ok, err = waitForRenderReady(context.Background(), never, "x", 0, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtractor_MissingRoot(t *testing.T) {
	b := &fakeBrowser{noRoot: true}
	tab, err := b.NewTab(context.Background())
	require.NoError(t, err)

	_, err = NewExtractor(testConfig()).Extract(context.Background(), tab)
	assert.ErrorIs(t, err, domain.ErrRenderTargetNotFound)
}

func TestExtractor_EmptyStylesheetIsValid(t *testing.T) {
	b := &fakeBrowser{}
	tab, err := b.NewTab(context.Background())
	require.NoError(t, err)
	tab.(*fakeTab).stylesheet = ""

	doc, err := NewExtractor(testConfig()).Extract(context.Background(), tab)
	require.NoError(t, err)
	assert.Empty(t, doc.Stylesheet)
	assert.Contains(t, doc.Markup, "Jane Smith")
	assert.NotContains(t, doc.Markup, "data-x")
}
