package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"resume-renderer/internal/config"
	"resume-renderer/internal/infra/chrome"
)

// Encoder prints a composed tab to PDF.
type Encoder struct {
	opts chrome.PrintOptions
}

// NewEncoder uses the configured default paper and margin.
func NewEncoder(cfg config.Config) (*Encoder, error) {
	paper, ok := cfg.Paper()
	if !ok {
		return nil, fmt.Errorf("paper size %q not configured", cfg.PDF.DefaultPaper)
	}
	return &Encoder{opts: chrome.PrintOptions{
		PaperWidth:          paper.Width,
		PaperHeight:         paper.Height,
		Margin:              cfg.PDF.Margin,
		PrintBackground:     true,
		PreferCSSPageSize:   true,
		DisplayHeaderFooter: false,
	}}, nil
}

// Encode prints tab and rejects output that is not a PDF.
func (e *Encoder) Encode(ctx context.Context, tab chrome.Tab) ([]byte, error) {
	buf, err := tab.PrintToPDF(ctx, e.opts)
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	if !bytes.HasPrefix(buf, []byte("%PDF-")) {
		return nil, fmt.Errorf("print to pdf: output has no PDF signature")
	}
	return buf, nil
}

// CountPages reads the page count from the document's page tree.
func CountPages(buf []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("count pages: malformed pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return r.NumPage(), nil
}
