package pitch

import (
	"fmt"
	"strings"
)

// Validate applies the local checks in order: media type, size, then auth.
// It never touches the network and stops at the first failure.
func Validate(upload Upload, token string, c Constraints) error {
	c = c.normalized()
	if !sameMediaType(upload.MediaType, c.MediaType) {
		return fmt.Errorf("%w: got %q, want %q", ErrInvalidMediaType, upload.MediaType, c.MediaType)
	}
	if upload.Size > c.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, upload.Size, c.MaxBytes)
	}
	if strings.TrimSpace(token) == "" {
		return ErrUnauthenticated
	}
	return nil
}

// sameMediaType compares media types case-insensitively, ignoring
// surrounding whitespace.
func sameMediaType(got, want string) bool {
	return strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want))
}
