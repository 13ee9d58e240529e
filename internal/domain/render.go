// Package domain holds the render pipeline's data types and errors.
// Keep it free of transport (HTTP) and infrastructure (Redis/Chrome) concerns.
package domain

import "encoding/json"

// RenderRequest is one caller-supplied render job.
type RenderRequest struct {
	// ResumeData is passed through verbatim to the render route.
	ResumeData json.RawMessage
	TemplateID string
	// Filename is the sanitized base name, without extension.
	Filename  string
	RequestID string
}

// Dimensions is the measured size of the rendered resume root, in CSS pixels.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RenderedDocument is the static snapshot taken from a live render page.
// It is built per request and never reused.
type RenderedDocument struct {
	Markup     string
	Stylesheet string
	Dimensions Dimensions
}
