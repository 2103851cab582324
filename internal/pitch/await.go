package pitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitchroom/pitchroom/internal/reliability"
)

// AwaitReady polls id until it reports ready, waiting backoff.Delay(n) between
// polls. onPoll, when set, sees every report. Transient status failures are
// retried; anything else ends the wait.
func AwaitReady(ctx context.Context, checker StatusChecker, id string, backoff reliability.Backoff, onPoll func(StatusReport)) (StatusReport, error) {
	for attempt := 0; ; attempt++ {
		report, err := checker.Poll(ctx, id)
		if err != nil {
			var statusErr *StatusCheckError
			if !errors.As(err, &statusErr) || !reliability.IsTransientStatus(statusErr.StatusCode) {
				return StatusReport{}, err
			}
		} else {
			if onPoll != nil {
				onPoll(report)
			}
			switch report.Status {
			case StatusReady:
				return report, nil
			case StatusError:
				detail := "unknown error"
				if report.Error != nil && *report.Error != "" {
					detail = *report.Error
				}
				return report, fmt.Errorf("%w: %s", ErrProcessingFailed, detail)
			}
		}
		if err := sleepCtx(ctx, backoff.Delay(attempt)); err != nil {
			return StatusReport{}, err
		}
	}
}
