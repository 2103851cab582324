package reliability

import "time"

// IsTransientStatus reports whether a status poll that failed with code may be
// repeated on the next tick instead of aborting the wait.
func IsTransientStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Backoff is a capped exponential delay schedule.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultPollBackoff is the polling schedule used when none is configured.
var DefaultPollBackoff = Backoff{Base: 500 * time.Millisecond, Cap: 4 * time.Second}

// Delay returns the wait before poll number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultPollBackoff.Base
	}
	limit := b.Cap
	if limit < base {
		limit = base
	}
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}
