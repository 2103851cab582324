// Package pitch submits pitch decks to the pitch API and tracks their
// processing status, against either the real endpoint or an in-process mock.
package pitch

import (
	"context"
	"io"
)

// Status is the processing state of an uploaded pitch.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// DefaultMediaType is the only document type the intake accepts.
const DefaultMediaType = "application/pdf"

// DefaultMaxBytes is the upload ceiling (20 MiB).
const DefaultMaxBytes int64 = 20 * 1024 * 1024

// DefaultReadyAfter is how many polls report processing before ready.
const DefaultReadyAfter = 3

// Upload is a single file submission. Body is read once and never retained.
type Upload struct {
	Filename  string
	MediaType string
	Size      int64
	Body      io.Reader
}

// Receipt is returned by a successful submission.
type Receipt struct {
	PitchID string `json:"pitchId"`
	Status  Status `json:"status"`
}

// StatusReport mirrors GET /api/pitches/{id}/status.
type StatusReport struct {
	PitchID string  `json:"pitchId"`
	Status  Status  `json:"status"`
	Error   *string `json:"error"`
}

// Constraints bound what Submit accepts.
type Constraints struct {
	MediaType string
	MaxBytes  int64
}

// DefaultConstraints returns the PDF / 20 MiB policy.
func DefaultConstraints() Constraints {
	return Constraints{MediaType: DefaultMediaType, MaxBytes: DefaultMaxBytes}
}

func (c Constraints) normalized() Constraints {
	if c.MediaType == "" {
		c.MediaType = DefaultMediaType
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	return c
}

// Uploader submits a deck together with the persona hint.
type Uploader interface {
	Submit(ctx context.Context, upload Upload, persona, token string) (Receipt, error)
}

// StatusChecker queries processing status for a tracking id.
type StatusChecker interface {
	Poll(ctx context.Context, pitchID string) (StatusReport, error)
}

// Client is the full pitch API surface used by the intake.
type Client interface {
	Uploader
	StatusChecker
}
