package render

import (
	"context"
	"fmt"
	"math"
	"strings"

	"resume-renderer/internal/config"
	"resume-renderer/internal/domain"
	"resume-renderer/internal/infra/chrome"
)

// printOverrides is appended after the extracted stylesheet so it wins.
// %[1]s is the resume root selector.
const printOverrides = `
* {
  -webkit-print-color-adjust: exact !important;
  print-color-adjust: exact !important;
  color-adjust: exact !important;
  box-shadow: none !important;
  text-shadow: none !important;
  filter: none !important;
  transform: none !important;
  transition: none !important;
  animation: none !important;
}
html, body {
  margin: 0;
  padding: 0;
  background: #ffffff;
}
%[1]s {
  margin: 0 !important;
  padding: 0 !important;
  width: 100%% !important;
  max-width: 100%% !important;
  height: auto !important;
  min-height: 0 !important;
}
.grid-cols-1, .md\:grid-cols-1, .lg\:grid-cols-1 { grid-template-columns: repeat(1, minmax(0, 1fr)) !important; }
.grid-cols-2, .md\:grid-cols-2, .lg\:grid-cols-2 { grid-template-columns: repeat(2, minmax(0, 1fr)) !important; }
.grid-cols-3, .md\:grid-cols-3, .lg\:grid-cols-3 { grid-template-columns: repeat(3, minmax(0, 1fr)) !important; }
.grid-cols-12, .md\:grid-cols-12, .lg\:grid-cols-12 { grid-template-columns: repeat(12, minmax(0, 1fr)) !important; }
.col-span-1, .md\:col-span-1, .lg\:col-span-1 { grid-column: span 1 / span 1 !important; }
.col-span-2, .md\:col-span-2, .lg\:col-span-2 { grid-column: span 2 / span 2 !important; }
.col-span-3, .md\:col-span-3, .lg\:col-span-3 { grid-column: span 3 / span 3 !important; }
.col-span-4, .md\:col-span-4, .lg\:col-span-4 { grid-column: span 4 / span 4 !important; }
.col-span-8, .md\:col-span-8, .lg\:col-span-8 { grid-column: span 8 / span 8 !important; }
.md\:flex-row, .lg\:flex-row { flex-direction: row !important; }
.md\:w-1\/3, .lg\:w-1\/3 { width: 33.333333%% !important; }
.md\:w-2\/3, .lg\:w-2\/3 { width: 66.666667%% !important; }
[style*="overflow: hidden"], [style*="overflow:hidden"],
[style*="overflow-x: hidden"], [style*="overflow-y: hidden"] {
  overflow: visible !important;
}
`

// BuildDocument assembles the standalone print document.
func BuildDocument(doc *domain.RenderedDocument, rootSelector string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<style>\n")
	b.WriteString(escapeStyle(doc.Stylesheet))
	b.WriteString("\n</style>\n<style>")
	b.WriteString(fmt.Sprintf(printOverrides, rootSelector))
	b.WriteString("</style>\n</head>\n<body>\n")
	b.WriteString(doc.Markup)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

// escapeStyle keeps collected CSS from closing its own style element.
func escapeStyle(css string) string {
	return strings.ReplaceAll(css, "</style", `<\/style`)
}

// Composer loads the extracted snapshot into a fresh tab for printing.
type Composer struct {
	cfg config.Config
}

// NewComposer builds a Composer from the render section of cfg.
func NewComposer(cfg config.Config) *Composer {
	return &Composer{cfg: cfg}
}

// Compose sizes the tab to the measured root, sets the document and waits
// for it to settle.
func (c *Composer) Compose(ctx context.Context, tab chrome.Tab, doc *domain.RenderedDocument) error {
	w, h := c.viewport(doc.Dimensions)
	if err := tab.SetViewport(ctx, w, h); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	contentCtx, cancel := context.WithTimeout(ctx, c.cfg.Render.ContentTimeout)
	defer cancel()
	if err := tab.SetContent(contentCtx, BuildDocument(doc, c.cfg.Render.RootSelector)); err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	if err := tab.WaitNetworkIdle(contentCtx); err != nil {
		return fmt.Errorf("wait for network idle: %w", err)
	}
	return sleep(ctx, c.cfg.Render.ContentSettleDelay)
}

func (c *Composer) viewport(d domain.Dimensions) (int64, int64) {
	w := int64(math.Ceil(d.Width))
	h := int64(math.Ceil(d.Height))
	if w <= 0 {
		w = c.cfg.Render.ViewportWidth
	}
	if h <= 0 {
		h = c.cfg.Render.ViewportHeight
	}
	return w, h
}
