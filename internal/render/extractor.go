package render

import (
	"context"
	"encoding/json"
	"fmt"

	"resume-renderer/internal/config"
	"resume-renderer/internal/domain"
	"resume-renderer/internal/infra/chrome"
)

// Extractor turns the live resume root into standalone markup and CSS.
type Extractor struct {
	rootSelector   string
	stripSelectors []string
}

// NewExtractor builds an Extractor from the render section of cfg.
func NewExtractor(cfg config.Config) *Extractor {
	return &Extractor{
		rootSelector:   cfg.Render.RootSelector,
		stripSelectors: cfg.Render.StripSelectors,
	}
}

type measureResult struct {
	Found  bool    `json:"found"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type markupResult struct {
	Found bool   `json:"found"`
	HTML  string `json:"html"`
}

func (e *Extractor) measureScript() string {
	return fmt.Sprintf(`(() => {
  const root = document.querySelector(%s);
  if (!root) return { found: false, width: 0, height: 0 };
  const rect = root.getBoundingClientRect();
  return { found: true, width: rect.width, height: rect.height };
})()`, jsString(e.rootSelector))
}

func (e *Extractor) markupScript() string {
	return fmt.Sprintf(`(() => {
  const root = document.querySelector(%s);
  if (!root) return { found: false, html: "" };
  const clone = root.cloneNode(true);
  for (const sel of %s) {
    try {
      clone.querySelectorAll(sel).forEach((el) => el.remove());
    } catch (e) {}
  }
  const computed = window.getComputedStyle(root);
  let inline = "";
  for (let i = 0; i < computed.length; i++) {
    const prop = computed[i];
    inline += prop + ": " + computed.getPropertyValue(prop) + "; ";
  }
  clone.setAttribute("style", inline);
  const strip = (el) => {
    for (const attr of Array.from(el.attributes)) {
      if (attr.name.startsWith("data-") || attr.name.startsWith("aria-")) {
        el.removeAttribute(attr.name);
      }
    }
  };
  strip(clone);
  clone.querySelectorAll("*").forEach(strip);
  return { found: true, html: clone.outerHTML };
})()`, jsString(e.rootSelector), jsArray(e.stripSelectors))
}

const stylesheetScript = `(() => {
  let css = "";
  for (const sheet of Array.from(document.styleSheets)) {
    try {
      for (const rule of Array.from(sheet.cssRules)) {
        css += rule.cssText + "\n";
      }
    } catch (e) {}
  }
  return css;
})()`

// Extract measures the root, serializes the sanitized clone and gathers every
// readable stylesheet rule. Unreadable sheets are skipped.
func (e *Extractor) Extract(ctx context.Context, tab chrome.Tab) (*domain.RenderedDocument, error) {
	var m measureResult
	if err := tab.Evaluate(ctx, e.measureScript(), &m); err != nil {
		return nil, fmt.Errorf("measure %s: %w", e.rootSelector, err)
	}
	if !m.Found {
		return nil, fmt.Errorf("%w: %s", domain.ErrRenderTargetNotFound, e.rootSelector)
	}

	var mk markupResult
	if err := tab.Evaluate(ctx, e.markupScript(), &mk); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", e.rootSelector, err)
	}
	if !mk.Found {
		return nil, fmt.Errorf("%w: %s", domain.ErrRenderTargetNotFound, e.rootSelector)
	}

	var css string
	if err := tab.Evaluate(ctx, stylesheetScript, &css); err != nil {
		return nil, fmt.Errorf("collect stylesheets: %w", err)
	}

	markup, err := ScrubMarkup(mk.HTML)
	if err != nil {
		return nil, fmt.Errorf("scrub markup: %w", err)
	}

	return &domain.RenderedDocument{
		Markup:     markup,
		Stylesheet: css,
		Dimensions: domain.Dimensions{Width: m.Width, Height: m.Height},
	}, nil
}

func jsArray(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
