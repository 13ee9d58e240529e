package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"resume-renderer/internal/domain"
	"resume-renderer/internal/infra/logging"
)

// HTTPError is a handler failure with a fixed status and machine code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

func badRequest(code, msg string) *HTTPError {
	return &HTTPError{Status: fiber.StatusBadRequest, Code: code, Message: msg}
}

// ErrorHandler renders every error as {success:false, error, code}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "Internal Server Error"
	code := "internal_error"

	var (
		he *HTTPError
		re *domain.RenderError
		fe *fiber.Error
	)
	switch {
	case errors.As(err, &he):
		status, code, msg = he.Status, he.Code, he.Message
	case errors.As(err, &re):
		code = re.Code()
		msg = "PDF generation failed: " + re.Error()
		if errors.Is(re, domain.ErrRenderBusy) {
			status = fiber.StatusServiceUnavailable
		}
	case errors.As(err, &fe):
		status, msg = fe.Code, fe.Message
		code = statusCode(fe.Code)
	}

	if status >= fiber.StatusInternalServerError {
		logging.Error("Request failed", "path", c.Path(), "status", status, "code", code, "message", msg)
	} else {
		logging.Warn("Request failed", "path", c.Path(), "status", status, "code", code, "message", msg)
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// statusCode turns "Method Not Allowed" into "method_not_allowed".
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
