package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"resume-renderer/internal/config"
	"resume-renderer/internal/domain"
	"resume-renderer/internal/infra/chrome"
	"resume-renderer/internal/infra/logging"
)

const readyPollInterval = 100 * time.Millisecond

// Navigator drives a tab through the client application's render route.
type Navigator struct {
	cfg config.Config
}

// NewNavigator builds a Navigator from the render section of cfg.
func NewNavigator(cfg config.Config) *Navigator {
	return &Navigator{cfg: cfg}
}

// RenderURL is the render route for templateID.
func (n *Navigator) RenderURL(templateID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(n.cfg.Render.BaseURL, "/") + n.cfg.Render.Route)
	if err != nil {
		return "", fmt.Errorf("render url: %w", err)
	}
	q := u.Query()
	q.Set("pdf", "true")
	q.Set("template", templateID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// InitScript seeds localStorage with the resume data and the render-mode
// flag. It runs before any page script, and only on the render origin.
func (n *Navigator) InitScript(resumeData json.RawMessage) (string, error) {
	origin, err := n.origin()
	if err != nil {
		return "", err
	}
	if !json.Valid(resumeData) {
		return "", fmt.Errorf("resume data is not valid JSON")
	}

	return fmt.Sprintf(`(() => {
  if (window.location.origin !== %s) return;
  try {
    window.localStorage.setItem(%s, %s);
    window.localStorage.setItem(%s, "true");
  } catch (e) {}
})();`, jsString(origin), jsString(n.cfg.Render.DataStorageKey), jsString(string(resumeData)), jsString(n.cfg.Render.ModeStorageKey)), nil
}

func (n *Navigator) origin() (string, error) {
	u, err := url.Parse(n.cfg.Render.BaseURL)
	if err != nil {
		return "", fmt.Errorf("render base url: %w", err)
	}
	host := u.Host
	switch port := u.Port(); {
	case port == "80" && u.Scheme == "http", port == "443" && u.Scheme == "https":
		host = strings.TrimSuffix(host, ":"+port)
	}
	return strings.ToLower(u.Scheme + "://" + host), nil
}

// Prepare sizes the viewport and registers the storage seeding hook.
func (n *Navigator) Prepare(ctx context.Context, tab chrome.Tab, resumeData json.RawMessage) error {
	if err := tab.SetViewport(ctx, n.cfg.Render.ViewportWidth, n.cfg.Render.ViewportHeight); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	script, err := n.InitScript(resumeData)
	if err != nil {
		return err
	}
	if err := tab.AddInitScript(ctx, script); err != nil {
		return fmt.Errorf("inject resume data: %w", err)
	}
	return nil
}

// Open navigates to the render route and waits for network idle, bounded by
// the navigation timeout.
func (n *Navigator) Open(ctx context.Context, tab chrome.Tab, templateID string) error {
	target, err := n.RenderURL(templateID)
	if err != nil {
		return err
	}
	navCtx, cancel := context.WithTimeout(ctx, n.cfg.Render.NavigationTimeout)
	defer cancel()

	if err := tab.Navigate(navCtx, target); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	if err := tab.WaitNetworkIdle(navCtx); err != nil {
		return fmt.Errorf("wait for network idle on %s: %w", target, err)
	}
	return nil
}

// AwaitRoot waits for the page to report it is ready, then for the resume
// root to become visible.
func (n *Navigator) AwaitRoot(ctx context.Context, tab chrome.Tab) error {
	expr := fmt.Sprintf(`document.documentElement.getAttribute(%s) === "true"`, jsString(n.cfg.Render.ReadyAttribute))
	ready, err := waitForRenderReady(ctx, tab, expr, n.cfg.Render.ReadyTimeout, readyPollInterval)
	if err != nil {
		return err
	}
	if !ready {
		logging.Debug("Render ready signal not seen, settling", "settle_ms", n.cfg.Render.SettleDelay.Milliseconds())
		if err := sleep(ctx, n.cfg.Render.SettleDelay); err != nil {
			return err
		}
	}

	selCtx, cancel := context.WithTimeout(ctx, n.cfg.Render.SelectorTimeout)
	defer cancel()
	if err := tab.WaitVisible(selCtx, n.cfg.Render.RootSelector); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s did not appear within %s", domain.ErrRenderTargetNotFound, n.cfg.Render.RootSelector, n.cfg.Render.SelectorTimeout)
	}
	return nil
}

// waitForRenderReady polls expr until it evaluates to true or timeout
// passes. It returns false without error when the signal never came.
func waitForRenderReady(ctx context.Context, tab chrome.Tab, expr string, timeout, interval time.Duration) (bool, error) {
	if timeout <= 0 {
		return false, nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var ready bool
		if err := tab.Evaluate(ctx, expr, &ready); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			logging.Debug("Render ready check failed", "error", err)
		} else if ready {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
