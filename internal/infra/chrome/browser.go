package chrome

import (
	"context"
	"errors"
	"strings"
)

// PrintOptions are the print-to-PDF parameters, in inches.
type PrintOptions struct {
	PaperWidth          float64
	PaperHeight         float64
	Margin              float64
	PrintBackground     bool
	PreferCSSPageSize   bool
	DisplayHeaderFooter bool
}

// Tab is one browsing context borrowed from the shared browser.
// Every method bounds its work by ctx.
type Tab interface {
	SetViewport(ctx context.Context, width, height int64) error
	// AddInitScript registers source to run before any page script on every
	// subsequent document load in this tab.
	AddInitScript(ctx context.Context, source string) error
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	// WaitNetworkIdle returns once no request has been in flight for the
	// tab's quiet period.
	WaitNetworkIdle(ctx context.Context) error
	WaitVisible(ctx context.Context, selector string) error
	// Evaluate runs expression and decodes its JSON result into res.
	Evaluate(ctx context.Context, expression string, res interface{}) error
	// SetContent replaces the current document with html.
	SetContent(ctx context.Context, html string) error
	PrintToPDF(ctx context.Context, opts PrintOptions) ([]byte, error)
	// Close releases the tab. It is safe to call more than once.
	Close() error
}

// Browser is a running browser process.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	// Alive reports whether the process is still usable.
	Alive() bool
	Close() error
}

// Launcher starts a browser process.
type Launcher func(ctx context.Context) (Browser, error)

// IsSessionInterrupted reports whether err looks like the browser or tab went
// away underneath a request.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "session closed", "websocket", "connection reset", "invalid context"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
