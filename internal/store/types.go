package store

import (
	"context"
	"errors"
	"time"

	"github.com/pitchroom/pitchroom/internal/pitch"
)

var ErrNotFound = errors.New("pitch record not found")

// PitchRecord is one uploaded deck and its processing progress.
type PitchRecord struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Persona   string       `json:"persona"`
	Filename  string       `json:"filename"`
	MediaType string       `json:"media_type"`
	Size      int64        `json:"size"`
	ObjectKey string       `json:"object_key"`
	Pages     int          `json:"pages"`
	Status    pitch.Status `json:"status"`
	Polls     int          `json:"polls"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Report is the record as the status endpoint presents it.
func (r PitchRecord) Report() pitch.StatusReport {
	rep := pitch.StatusReport{PitchID: r.ID, Status: r.Status}
	if r.Error != "" {
		msg := r.Error
		rep.Error = &msg
	}
	return rep
}

// Store persists pitch records.
type Store interface {
	Create(ctx context.Context, record PitchRecord) (PitchRecord, error)
	Get(ctx context.Context, id string) (PitchRecord, error)
	// RecordPoll counts one status poll and returns the record with the
	// status that poll observes. Status never moves backwards and error is
	// sticky.
	RecordPoll(ctx context.Context, id string, readyAfter int) (PitchRecord, error)
	MarkFailed(ctx context.Context, id string, reason string) error
	Ping(ctx context.Context) error
	Close() error
}

// nextStatus applies the shared poll rule on top of the stored status.
func nextStatus(current pitch.Status, previousPolls, readyAfter int) pitch.Status {
	if current == pitch.StatusError {
		return pitch.StatusError
	}
	return pitch.StatusAfter(previousPolls, readyAfter)
}

func normalizeReadyAfter(n int) int {
	if n <= 0 {
		return pitch.DefaultReadyAfter
	}
	return n
}
