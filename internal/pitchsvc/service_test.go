package pitchsvc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchroom/pitchroom/internal/blob"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/store"
)

func deck(body string) pitch.Upload {
	return pitch.Upload{
		Filename:  "deck.pdf",
		MediaType: pitch.DefaultMediaType,
		Size:      int64(len(body)),
		Body:      strings.NewReader(body),
	}
}

func newStored(t *testing.T, blobs blob.ObjectStore) (*StoredService, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	svc, err := NewStoredService(StoredConfig{
		Store:       st,
		Blobs:       blobs,
		Constraints: pitch.Constraints{MediaType: pitch.DefaultMediaType, MaxBytes: 64},
		ReadyAfter:  2,
	})
	require.NoError(t, err)
	return svc, st
}

func TestStoredSubmitPersistsRecordAndBytes(t *testing.T) {
	blobs := blob.NewMemoryStore("pitches")
	svc, st := newStored(t, blobs)

	receipt, err := svc.Submit(context.Background(), SubmitRequest{UserID: "u1", Persona: "lori", Token: "tok", Upload: deck("%PDF-1.4 tiny")})
	require.NoError(t, err)
	assert.Equal(t, pitch.StatusUploaded, receipt.Status)

	rec, err := st.Get(context.Background(), receipt.PitchID)
	require.NoError(t, err)
	assert.Equal(t, "u1/"+receipt.PitchID+".pdf", rec.ObjectKey)
	assert.Equal(t, "lori", rec.Persona)
	assert.Zero(t, rec.Pages, "unparseable deck still uploads")

	data, ct, err := blobs.Get(rec.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 tiny", string(data))
	assert.Equal(t, pitch.DefaultMediaType, ct)

	detail, err := svc.Describe(context.Background(), receipt.PitchID)
	require.NoError(t, err)
	assert.NotEmpty(t, detail.DownloadURL)
}

func TestStoredSubmitValidatesBeforeStoring(t *testing.T) {
	svc, _ := newStored(t, blob.NewMemoryStore(""))
	ctx := context.Background()

	up := deck("x")
	up.MediaType = "image/png"
	_, err := svc.Submit(ctx, SubmitRequest{Token: "tok", Upload: up})
	assert.ErrorIs(t, err, pitch.ErrInvalidMediaType)

	_, err = svc.Submit(ctx, SubmitRequest{Upload: deck("x")})
	assert.ErrorIs(t, err, pitch.ErrUnauthenticated)

	// Declared size lies; the body is over the limit.
	lying := deck(strings.Repeat("a", 100))
	lying.Size = 10
	_, err = svc.Submit(ctx, SubmitRequest{Token: "tok", Upload: lying})
	assert.ErrorIs(t, err, pitch.ErrPayloadTooLarge)
}

func TestStoredPollFollowsSharedRule(t *testing.T) {
	svc, _ := newStored(t, blob.NewMemoryStore(""))
	ctx := context.Background()
	receipt, err := svc.Submit(ctx, SubmitRequest{Token: "tok", Upload: deck("%PDF-")})
	require.NoError(t, err)

	var got []pitch.Status
	for i := 0; i < 4; i++ {
		rep, err := svc.Poll(ctx, receipt.PitchID)
		require.NoError(t, err)
		got = append(got, rep.Status)
	}
	assert.Equal(t, []pitch.Status{pitch.StatusProcessing, pitch.StatusProcessing, pitch.StatusReady, pitch.StatusReady}, got)

	_, err = svc.Poll(ctx, "missing")
	assert.ErrorIs(t, err, pitch.ErrNotFound)
	_, err = svc.Describe(ctx, "missing")
	assert.ErrorIs(t, err, pitch.ErrNotFound)
}

type brokenBlobs struct{ blob.ObjectStore }

func (brokenBlobs) Put(context.Context, string, io.Reader, int64, string) error {
	return errors.New("bucket gone")
}

func (brokenBlobs) Ping(context.Context) error { return errors.New("bucket gone") }

func TestStoredSubmitMarksRecordFailedWhenStorageFails(t *testing.T) {
	svc, st := newStored(t, brokenBlobs{})
	ctx := context.Background()

	var created []string
	svc.store = recordingStore{Store: st, created: &created}
	_, err := svc.Submit(ctx, SubmitRequest{UserID: "u1", Token: "tok", Upload: deck("%PDF-")})
	require.Error(t, err)
	require.Len(t, created, 1)

	rep, err := svc.Poll(ctx, created[0])
	require.NoError(t, err)
	assert.Equal(t, pitch.StatusError, rep.Status)
	require.NotNil(t, rep.Error)
	assert.Equal(t, "storage unavailable", *rep.Error)

	assert.Error(t, svc.Ping(ctx))
}

type recordingStore struct {
	store.Store
	created *[]string
}

func (s recordingStore) Create(ctx context.Context, rec store.PitchRecord) (store.PitchRecord, error) {
	out, err := s.Store.Create(ctx, rec)
	if err == nil {
		*s.created = append(*s.created, out.ID)
	}
	return out, err
}

func TestMockServiceUsesTracker(t *testing.T) {
	client := pitch.NewMockClient(pitch.MockConfig{})
	svc := NewMockService(client, pitch.DefaultConstraints())
	ctx := context.Background()

	receipt, err := svc.Submit(ctx, SubmitRequest{Token: "tok", Upload: pitch.Upload{
		Filename: "d.pdf", MediaType: pitch.DefaultMediaType, Size: 3, Body: bytes.NewReader([]byte("abc")),
	}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rep, err := svc.Poll(ctx, receipt.PitchID)
		require.NoError(t, err)
		assert.Equal(t, pitch.StatusProcessing, rep.Status)
	}
	rep, err := svc.Poll(ctx, receipt.PitchID)
	require.NoError(t, err)
	assert.Equal(t, pitch.StatusReady, rep.Status)

	_, err = svc.Describe(ctx, receipt.PitchID)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, ModeMock, svc.Mode())
	assert.NoError(t, svc.Ping(ctx))
}

func TestNewStoredServiceRequiresBackends(t *testing.T) {
	_, err := NewStoredService(StoredConfig{Store: store.NewInMemoryStore()})
	assert.Error(t, err)

	svc, err := NewStoredService(StoredConfig{Store: store.NewInMemoryStore(), Blobs: blob.NewMemoryStore("")})
	require.NoError(t, err)
	assert.Equal(t, pitch.DefaultMaxBytes, svc.Constraints().MaxBytes)
	assert.Equal(t, 15*time.Minute, svc.linkExpiry)
}
