package pitch

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MockConfig tunes the local stand-in for the pitch API.
type MockConfig struct {
	Constraints   Constraints
	Tracker       *Tracker
	UploadLatency time.Duration
	PollLatency   time.Duration
	Logger        *zap.Logger
}

// MockClient never touches the network. Submissions get a local id and the
// status endpoint is answered from the shared Tracker.
type MockClient struct {
	constraints   Constraints
	tracker       *Tracker
	uploadLatency time.Duration
	pollLatency   time.Duration
	logger        *zap.Logger
	newID         func() (string, error)
}

func NewMockClient(cfg MockConfig) *MockClient {
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker(DefaultReadyAfter)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockClient{
		constraints:   cfg.Constraints.normalized(),
		tracker:       tracker,
		uploadLatency: cfg.UploadLatency,
		pollLatency:   cfg.PollLatency,
		logger:        logger,
		newID:         newUUID,
	}
}

// Tracker exposes the counter store so other collaborators can share it.
func (c *MockClient) Tracker() *Tracker { return c.tracker }

func (c *MockClient) Submit(ctx context.Context, upload Upload, persona, token string) (Receipt, error) {
	if err := Validate(upload, token, c.constraints); err != nil {
		return Receipt{}, err
	}
	if err := sleepCtx(ctx, c.uploadLatency); err != nil {
		return Receipt{}, err
	}
	id, err := c.newID()
	if err != nil || strings.TrimSpace(id) == "" {
		id = fallbackID()
	}
	c.tracker.Seed(id)
	c.logger.Debug("mock upload accepted",
		zap.String("pitch_id", id),
		zap.String("persona", persona),
		zap.Int64("bytes", upload.Size),
	)
	return Receipt{PitchID: id, Status: StatusUploaded}, nil
}

func (c *MockClient) Poll(ctx context.Context, pitchID string) (StatusReport, error) {
	if err := sleepCtx(ctx, c.pollLatency); err != nil {
		return StatusReport{}, err
	}
	status := c.tracker.Next(pitchID)
	return StatusReport{PitchID: pitchID, Status: status}, nil
}

func newUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func fallbackID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	b.WriteString("mock-")
	for i := 0; i < 8; i++ {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Client = (*MockClient)(nil)

