package logging

import "regexp"

var (
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`)
	jwtPattern    = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// Redact masks credentials and contact details in text that came from a
// user or a remote peer before it is logged.
func Redact(input string) string {
	out := bearerPattern.ReplaceAllString(input, "Bearer [REDACTED_TOKEN]")
	out = jwtPattern.ReplaceAllString(out, "[REDACTED_TOKEN]")
	out = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	return phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
}
