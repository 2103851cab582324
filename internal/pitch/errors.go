package pitch

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMediaType = errors.New("invalid media type")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrProcessingFailed = errors.New("pitch processing failed")
	ErrNotFound         = errors.New("pitch not found")
)

// UploadError is a failed submission after validation passed: either the
// transport failed (Err set) or the server answered non-2xx.
type UploadError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	return fmt.Sprintf("upload failed with status %d", e.StatusCode)
}

func (e *UploadError) Unwrap() error { return e.Err }

// StatusCheckError is a non-2xx answer from the status endpoint.
type StatusCheckError struct {
	StatusCode int
	Detail     string
}

func (e *StatusCheckError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("status check failed (%d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("status check failed with status %d", e.StatusCode)
}

// UserMessage renders err as the inline message shown next to the upload tile.
func UserMessage(err error) string {
	var upErr *UploadError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidMediaType):
		return "Please upload a PDF."
	case errors.Is(err, ErrPayloadTooLarge):
		return "File must be 20MB or less."
	case errors.Is(err, ErrUnauthenticated):
		return "Please sign in to upload."
	case errors.As(err, &upErr):
		return upErr.Error()
	default:
		return "Upload failed. Try again."
	}
}
