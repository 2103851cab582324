// Package pitchsvc is the server side of the pitch API: it accepts decks and
// answers status polls, either from persisted records or from the in-process
// mock.
package pitchsvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/blob"
	"github.com/pitchroom/pitchroom/internal/docinfo"
	"github.com/pitchroom/pitchroom/internal/logging"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/store"
)

const (
	ModeMock   = "mock"
	ModeStored = "stored"
)

var ErrUnsupported = errors.New("not supported by this pitch backend")

// SubmitRequest is an authenticated upload.
type SubmitRequest struct {
	UserID  string
	Persona string
	Token   string
	Upload  pitch.Upload
}

// Detail is the full record of a stored pitch.
type Detail struct {
	store.PitchRecord
	DownloadURL string `json:"download_url,omitempty"`
}

// Service accepts pitch decks and reports their processing status. Poll makes
// every Service a pitch.StatusChecker.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (pitch.Receipt, error)
	Poll(ctx context.Context, pitchID string) (pitch.StatusReport, error)
	Describe(ctx context.Context, pitchID string) (Detail, error)
	Constraints() pitch.Constraints
	Mode() string
	Ping(ctx context.Context) error
}

// MockService answers from a pitch.MockClient: nothing is stored and status
// follows the poll counter.
type MockService struct {
	client *pitch.MockClient
	cons   pitch.Constraints
}

func NewMockService(client *pitch.MockClient, cons pitch.Constraints) *MockService {
	return &MockService{client: client, cons: cons}
}

func (s *MockService) Submit(ctx context.Context, req SubmitRequest) (pitch.Receipt, error) {
	return s.client.Submit(ctx, req.Upload, req.Persona, req.Token)
}

func (s *MockService) Poll(ctx context.Context, pitchID string) (pitch.StatusReport, error) {
	return s.client.Poll(ctx, pitchID)
}

func (s *MockService) Describe(context.Context, string) (Detail, error) {
	return Detail{}, ErrUnsupported
}

func (s *MockService) Constraints() pitch.Constraints { return s.cons }

func (s *MockService) Mode() string { return ModeMock }

func (s *MockService) Ping(context.Context) error { return nil }

// StoredConfig wires the persistent backend.
type StoredConfig struct {
	Store       store.Store
	Blobs       blob.ObjectStore
	Constraints pitch.Constraints
	ReadyAfter  int
	LinkExpiry  time.Duration
	Logger      *zap.Logger
}

// StoredService keeps records in a store.Store and deck bytes in object
// storage.
type StoredService struct {
	store      store.Store
	blobs      blob.ObjectStore
	cons       pitch.Constraints
	readyAfter int
	linkExpiry time.Duration
	logger     *zap.Logger
}

func NewStoredService(cfg StoredConfig) (*StoredService, error) {
	if cfg.Store == nil || cfg.Blobs == nil {
		return nil, errors.New("pitchsvc: store and object store are required")
	}
	if cfg.LinkExpiry <= 0 {
		cfg.LinkExpiry = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Constraints.MediaType == "" {
		cfg.Constraints.MediaType = pitch.DefaultMediaType
	}
	if cfg.Constraints.MaxBytes <= 0 {
		cfg.Constraints.MaxBytes = pitch.DefaultMaxBytes
	}
	return &StoredService{
		store:      cfg.Store,
		blobs:      cfg.Blobs,
		cons:       cfg.Constraints,
		readyAfter: cfg.ReadyAfter,
		linkExpiry: cfg.LinkExpiry,
		logger:     cfg.Logger,
	}, nil
}

func (s *StoredService) Submit(ctx context.Context, req SubmitRequest) (pitch.Receipt, error) {
	if err := pitch.Validate(req.Upload, req.Token, s.cons); err != nil {
		return pitch.Receipt{}, err
	}
	// The declared size is the client's claim; the body is what counts.
	data, err := io.ReadAll(io.LimitReader(req.Upload.Body, s.cons.MaxBytes+1))
	if err != nil {
		return pitch.Receipt{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cons.MaxBytes {
		return pitch.Receipt{}, pitch.ErrPayloadTooLarge
	}

	pages, err := docinfo.PageCount(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Info("deck inspection failed", zap.String("filename", logging.Redact(req.Upload.Filename)), zap.Error(err))
	}

	owner := strings.TrimSpace(req.UserID)
	if owner == "" {
		owner = "anonymous"
	}
	id := uuid.NewString()
	rec, err := s.store.Create(ctx, store.PitchRecord{
		ID:        id,
		UserID:    owner,
		Persona:   req.Persona,
		Filename:  req.Upload.Filename,
		MediaType: req.Upload.MediaType,
		Size:      int64(len(data)),
		ObjectKey: owner + "/" + id + ".pdf",
		Pages:     pages,
		Status:    pitch.StatusUploaded,
	})
	if err != nil {
		return pitch.Receipt{}, fmt.Errorf("create pitch record: %w", err)
	}

	if err := s.blobs.Put(ctx, rec.ObjectKey, bytes.NewReader(data), int64(len(data)), req.Upload.MediaType); err != nil {
		s.logger.Error("deck storage failed", zap.String("pitch_id", rec.ID), zap.Error(err))
		if markErr := s.store.MarkFailed(context.WithoutCancel(ctx), rec.ID, "storage unavailable"); markErr != nil {
			s.logger.Warn("mark pitch failed", zap.String("pitch_id", rec.ID), zap.Error(markErr))
		}
		return pitch.Receipt{}, fmt.Errorf("store deck: %w", err)
	}

	s.logger.Info("pitch uploaded",
		zap.String("pitch_id", rec.ID),
		zap.String("persona", rec.Persona),
		zap.Int64("size", rec.Size),
		zap.Int("pages", rec.Pages),
	)
	return pitch.Receipt{PitchID: rec.ID, Status: rec.Status}, nil
}

func (s *StoredService) Poll(ctx context.Context, pitchID string) (pitch.StatusReport, error) {
	rec, err := s.store.RecordPoll(ctx, pitchID, s.readyAfter)
	if errors.Is(err, store.ErrNotFound) {
		return pitch.StatusReport{}, pitch.ErrNotFound
	}
	if err != nil {
		return pitch.StatusReport{}, err
	}
	return rec.Report(), nil
}

func (s *StoredService) Describe(ctx context.Context, pitchID string) (Detail, error) {
	rec, err := s.store.Get(ctx, pitchID)
	if errors.Is(err, store.ErrNotFound) {
		return Detail{}, pitch.ErrNotFound
	}
	if err != nil {
		return Detail{}, err
	}
	d := Detail{PitchRecord: rec}
	if rec.Status != pitch.StatusError {
		link, err := s.blobs.PresignGet(ctx, rec.ObjectKey, s.linkExpiry)
		if err != nil {
			s.logger.Warn("presign deck link failed", zap.String("pitch_id", rec.ID), zap.Error(err))
		} else {
			d.DownloadURL = link
		}
	}
	return d, nil
}

func (s *StoredService) Constraints() pitch.Constraints { return s.cons }

func (s *StoredService) Mode() string { return ModeStored }

func (s *StoredService) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("pitch store: %w", err)
	}
	if err := s.blobs.Ping(ctx); err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	return nil
}

var (
	_ Service             = (*MockService)(nil)
	_ Service             = (*StoredService)(nil)
	_ pitch.StatusChecker = (Service)(nil)
)
