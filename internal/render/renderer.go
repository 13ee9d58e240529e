// Package render turns a resume render request into PDF bytes by driving the
// client application in a shared headless browser.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resume-renderer/internal/config"
	"resume-renderer/internal/domain"
	"resume-renderer/internal/infra/chrome"
	"resume-renderer/internal/infra/logging"
)

// State is a step of one render request.
type State string

const (
	StateIdle              State = "idle"
	StatePageOpened        State = "page-opened"
	StateDataInjected      State = "data-injected"
	StateNavigated         State = "navigated"
	StateRootFound         State = "root-found"
	StateExtracted         State = "extracted"
	StateComposePageOpened State = "compose-page-opened"
	StateContentSet        State = "content-set"
	StatePDFEncoded        State = "pdf-encoded"
	StatePagesClosed       State = "pages-closed"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Observer receives every state a request passes through.
type Observer func(requestID string, s State)

// Session is what the renderer needs from the browser session manager.
type Session interface {
	Reserve(ctx context.Context) (func(), error)
	Browser(ctx context.Context) (chrome.Browser, error)
	NewTab(ctx context.Context) (chrome.Tab, error)
}

// Result is a finished render.
type Result struct {
	PDF        []byte
	Pages      int
	Dimensions domain.Dimensions
	Duration   time.Duration
}

// Renderer runs the navigate, extract, compose and encode steps for one
// request at a time per call; calls may run concurrently.
type Renderer struct {
	session   Session
	timeout   time.Duration
	navigator *Navigator
	extractor *Extractor
	composer  *Composer
	encoder   *Encoder
	observer  Observer
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithObserver registers fn to see state transitions.
func WithObserver(fn Observer) Option {
	return func(r *Renderer) { r.observer = fn }
}

// NewRenderer wires the pipeline steps from cfg.
func NewRenderer(session Session, cfg config.Config, opts ...Option) (*Renderer, error) {
	enc, err := NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		session:   session,
		timeout:   cfg.Timeout(),
		navigator: NewNavigator(cfg),
		extractor: NewExtractor(cfg),
		composer:  NewComposer(cfg),
		encoder:   enc,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Render produces the PDF for req. Every tab it opens is closed before it
// returns, on success and on failure alike.
func (r *Renderer) Render(ctx context.Context, req domain.RenderRequest) (res *Result, err error) {
	started := time.Now()
	state := StateIdle
	step := func(s State) {
		state = s
		logging.Debug("Render state", "request_id", req.RequestID, "template", req.TemplateID, "state", s)
		if r.observer != nil {
			r.observer(req.RequestID, s)
		}
	}

	release, err := r.session.Reserve(ctx)
	if err != nil {
		step(StateFailed)
		switch {
		case errors.Is(err, domain.ErrRenderBusy):
			return nil, domain.NewRenderError(domain.StageCapacity, err)
		case errors.Is(err, domain.ErrSessionClosed):
			return nil, domain.NewRenderError(domain.StageLaunch, err)
		}
		return nil, fmt.Errorf("wait for render slot: %w", err)
	}
	defer release()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if _, err := r.session.Browser(ctx); err != nil {
		step(StateFailed)
		return nil, domain.NewRenderError(domain.StageLaunch, err)
	}

	var tabs []chrome.Tab
	defer func() {
		for _, t := range tabs {
			if cerr := t.Close(); cerr != nil {
				logging.Warn("Failed to close tab", "request_id", req.RequestID, "error", cerr)
			}
		}
		if err != nil {
			logging.Error("Render failed",
				"request_id", req.RequestID,
				"template", req.TemplateID,
				"stage", domain.StageOf(err),
				"last_state", state,
				"duration_ms", time.Since(started).Milliseconds(),
				"error", err,
			)
			step(StateFailed)
			return
		}
		step(StatePagesClosed)
		step(StateDone)
	}()

	renderTab, err := r.session.NewTab(ctx)
	if err != nil {
		return nil, domain.NewRenderError(domain.StageNavigation, err)
	}
	tabs = append(tabs, renderTab)
	step(StatePageOpened)

	if err = r.navigator.Prepare(ctx, renderTab, req.ResumeData); err != nil {
		return nil, domain.NewRenderError(domain.StageNavigation, err)
	}
	step(StateDataInjected)

	if err = r.navigator.Open(ctx, renderTab, req.TemplateID); err != nil {
		return nil, domain.NewRenderError(domain.StageNavigation, err)
	}
	step(StateNavigated)

	if err = r.navigator.AwaitRoot(ctx, renderTab); err != nil {
		return nil, domain.NewRenderError(domain.StageNavigation, err)
	}
	step(StateRootFound)

	doc, err := r.extractor.Extract(ctx, renderTab)
	if err != nil {
		return nil, domain.NewRenderError(domain.StageExtraction, err)
	}
	step(StateExtracted)

	printTab, err := r.session.NewTab(ctx)
	if err != nil {
		return nil, domain.NewRenderError(domain.StageComposition, err)
	}
	tabs = append(tabs, printTab)
	step(StateComposePageOpened)

	if err = r.composer.Compose(ctx, printTab, doc); err != nil {
		return nil, domain.NewRenderError(domain.StageComposition, err)
	}
	step(StateContentSet)

	pdf, err := r.encoder.Encode(ctx, printTab)
	if err != nil {
		return nil, domain.NewRenderError(domain.StageEncoding, err)
	}
	step(StatePDFEncoded)

	pages, cerr := CountPages(pdf)
	if cerr != nil {
		logging.Warn("Could not count PDF pages", "request_id", req.RequestID, "error", cerr)
	}
	if pages > 1 {
		logging.Warn("Rendered resume spans more than one page", "request_id", req.RequestID, "template", req.TemplateID, "pages", pages)
	}

	return &Result{
		PDF:        pdf,
		Pages:      pages,
		Dimensions: doc.Dimensions,
		Duration:   time.Since(started),
	}, nil
}
