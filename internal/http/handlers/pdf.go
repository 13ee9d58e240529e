package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/xeipuuv/gojsonschema"

	"resume-renderer/internal/config"
	"resume-renderer/internal/domain"
	"resume-renderer/internal/infra/chrome"
	"resume-renderer/internal/infra/logging"
	"resume-renderer/internal/infra/stats"
	"resume-renderer/internal/render"
)

// Renderer produces a PDF for one request.
type Renderer interface {
	Render(ctx context.Context, req domain.RenderRequest) (*render.Result, error)
}

// SessionStats exposes the browser session counters.
type SessionStats interface {
	Stats() chrome.Stats
}

// generateRequest is the JSON body of the generate endpoint.
type generateRequest struct {
	ResumeData json.RawMessage `json:"resumeData"`
	TemplateID string          `json:"templateId"`
	Filename   string          `json:"filename"`
}

// PDFService bundles configuration and dependencies for PDF rendering.
type PDFService struct {
	cfg      config.Config
	renderer Renderer
	session  SessionStats
	stats    *stats.Recorder
	schema   *gojsonschema.Schema
}

// NewPDFService builds the service. When render.schema_path is set the
// schema is compiled once here.
func NewPDFService(cfg config.Config, renderer Renderer, session SessionStats, rec *stats.Recorder) (*PDFService, error) {
	svc := &PDFService{cfg: cfg, renderer: renderer, session: session, stats: rec}
	if cfg.Render.SchemaPath != "" {
		abs, err := filepath.Abs(cfg.Render.SchemaPath)
		if err != nil {
			return nil, err
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)))
		if err != nil {
			return nil, fmt.Errorf("load resume schema %s: %w", cfg.Render.SchemaPath, err)
		}
		svc.schema = schema
	}
	return svc, nil
}

// HandleGenerate renders the posted resume and streams the PDF back.
func (svc *PDFService) HandleGenerate(c *fiber.Ctx) error {
	req, err := svc.parseRequest(c)
	if err != nil {
		return err
	}

	res, err := svc.renderer.Render(c.UserContext(), *req)
	if err != nil {
		var re *domain.RenderError
		if !errors.As(err, &re) {
			svc.stats.Record(c.UserContext(), req.TemplateID, "render_failed", 0)
			return &HTTPError{
				Status:  fiber.StatusInternalServerError,
				Code:    "render_failed",
				Message: "PDF generation failed: " + err.Error(),
			}
		}
		svc.stats.Record(c.UserContext(), req.TemplateID, re.Code(), 0)
		return err
	}
	if limit := svc.cfg.Limits.MaxPDFBytes; limit > 0 && len(res.PDF) > limit {
		svc.stats.Record(c.UserContext(), req.TemplateID, "pdf_too_large", 0)
		return &HTTPError{
			Status:  fiber.StatusInternalServerError,
			Code:    "pdf_too_large",
			Message: fmt.Sprintf("PDF generation failed: PDF exceeds allowed size of %d bytes", limit),
		}
	}

	svc.stats.Record(c.UserContext(), req.TemplateID, "", res.Duration)

	logging.Info("PDF generated",
		"request_id", req.RequestID,
		"template", req.TemplateID,
		"filename", req.Filename,
		"bytes", len(res.PDF),
		"pages", res.Pages,
		"duration_ms", res.Duration.Milliseconds(),
	)

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, contentDisposition(req.Filename))
	c.Set("X-PDF-Page-Count", strconv.Itoa(res.Pages))
	return c.Send(res.PDF)
}

func (svc *PDFService) parseRequest(c *fiber.Ctx) (*domain.RenderRequest, error) {
	body := bytes.TrimSpace(c.Body())
	var in generateRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, badRequest("invalid_json", "Invalid JSON body: "+err.Error())
		}
	}

	data := bytes.TrimSpace(in.ResumeData)
	if isFalsy(data) || strings.TrimSpace(in.TemplateID) == "" || strings.TrimSpace(in.Filename) == "" {
		return nil, badRequest("missing_fields", domain.ErrMissingFields.Error())
	}
	if data[0] != '{' {
		return nil, badRequest("invalid_resume_data", "resumeData must be a JSON object")
	}
	if err := svc.validateSchema(data); err != nil {
		return nil, err
	}

	return &domain.RenderRequest{
		ResumeData: json.RawMessage(data),
		TemplateID: strings.TrimSpace(in.TemplateID),
		Filename:   sanitizeFilename(in.Filename),
		RequestID:  requestID(c),
	}, nil
}

// isFalsy treats absent, null, false, "" and 0 as not provided.
func isFalsy(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	switch data[0] {
	case '{', '[':
		return false
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case float64:
		return v == 0
	}
	return false
}

func (svc *PDFService) validateSchema(data []byte) error {
	if svc.schema == nil {
		return nil
	}
	res, err := svc.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return badRequest("invalid_resume_data", "resumeData could not be validated: "+err.Error())
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return badRequest("invalid_resume_data", "resumeData does not match schema: "+strings.Join(msgs, "; "))
}

// HandleBrowserStats reports the browser session and per-template counters.
func (svc *PDFService) HandleBrowserStats(c *fiber.Ctx) error {
	out := fiber.Map{
		"timeout_secs":           svc.cfg.PDF.TimeoutSecs,
		"max_concurrent_renders": svc.cfg.PDF.MaxConcurrentRenders,
		"stats_enabled":          svc.stats.Enabled(),
	}
	if svc.session != nil {
		out["browser"] = svc.session.Stats()
	}
	templates, err := svc.stats.Snapshot(c.UserContext())
	if err != nil {
		logging.Warn("Redis stats read failed", "error", err)
		templates = map[string]stats.TemplateStats{}
	}
	out["templates"] = templates
	return c.JSON(out)
}

func requestID(c *fiber.Ctx) string {
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
