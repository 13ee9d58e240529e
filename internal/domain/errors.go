package domain

import (
	"context"
	"errors"
)

var (
	// ErrMissingFields is returned when resumeData, templateId or filename is absent.
	ErrMissingFields = errors.New("Missing required fields: resumeData, templateId, filename")
	// ErrRenderTargetNotFound signals the render route never mounted the resume root.
	ErrRenderTargetNotFound = errors.New("render target not found")
	// ErrSessionClosed is returned once the browser session has been shut down.
	ErrSessionClosed = errors.New("browser session closed")
	// ErrRenderBusy is returned when no render slot frees up in time.
	ErrRenderBusy = errors.New("renderer is at capacity")
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// Stage names the pipeline step a render failed in.
type Stage string

const (
	StageLaunch      Stage = "launch"
	StageCapacity    Stage = "capacity"
	StageNavigation  Stage = "navigation"
	StageExtraction  Stage = "extraction"
	StageComposition Stage = "composition"
	StageEncoding    Stage = "encoding"
)

// RenderError tags a pipeline failure with the stage it happened in.
type RenderError struct {
	Stage Stage
	Err   error
}

// NewRenderError wraps err for stage. A nil err yields nil.
func NewRenderError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var re *RenderError
	if errors.As(err, &re) {
		return err
	}
	return &RenderError{Stage: stage, Err: err}
}

func (e *RenderError) Error() string {
	if e.Err == nil {
		return string(e.Stage) + " failed"
	}
	return e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Code is a stable machine-readable identifier for the failure.
func (e *RenderError) Code() string {
	switch e.Stage {
	case StageLaunch:
		return "launch_failed"
	case StageCapacity:
		return "render_busy"
	case StageNavigation:
		if errors.Is(e.Err, ErrRenderTargetNotFound) {
			return "render_target_not_found"
		}
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return "navigation_timeout"
		}
		return "navigation_failed"
	case StageExtraction:
		return "extraction_failed"
	case StageComposition:
		return "composition_failed"
	case StageEncoding:
		return "encoding_failed"
	}
	return "render_failed"
}

// StageOf returns the stage recorded in err, or "" when err is untagged.
func StageOf(err error) Stage {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Stage
	}
	return ""
}
