package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchroom/pitchroom/internal/auth"
	"github.com/pitchroom/pitchroom/internal/blob"
	"github.com/pitchroom/pitchroom/internal/config"
	"github.com/pitchroom/pitchroom/internal/observability"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/pitchsvc"
	"github.com/pitchroom/pitchroom/internal/protocol"
	"github.com/pitchroom/pitchroom/internal/session"
	"github.com/pitchroom/pitchroom/internal/store"
)

var metricsSeq atomic.Int64

// fakeRunner announces itself, echoes inbound message types as system events
// and sends a media_release when the session is stopped.
type fakeRunner struct{}

func (fakeRunner) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any, stop <-chan struct{}) error {
	outbound <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "session_ready"}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			outbound <- protocol.MediaRelease{Type: protocol.TypeMediaRelease, SessionID: s.ID, RequestID: "r1"}
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			typ, _ := protocol.TypeOf(msg)
			outbound <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "echo", Detail: string(typ)}
		}
	}
}

type fixture struct {
	srv      *Server
	ts       *httptest.Server
	sessions *session.Manager
}

func newFixture(t *testing.T, pitches pitchsvc.Service, verifier auth.Verifier) *fixture {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		PitchReadyAfterPolls:     3,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	srv := New(cfg, Deps{
		Sessions: sessions,
		Runner:   fakeRunner{},
		Pitches:  pitches,
		Verifier: verifier,
		Metrics:  metrics,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, sessions: sessions}
}

func mockPitches() pitchsvc.Service {
	return pitchsvc.NewMockService(pitch.NewMockClient(pitch.MockConfig{}), pitch.DefaultConstraints())
}

func storedPitches(t *testing.T) pitchsvc.Service {
	t.Helper()
	svc, err := pitchsvc.NewStoredService(pitchsvc.StoredConfig{
		Store:       store.NewInMemoryStore(),
		Blobs:       blob.NewMemoryStore("pitches"),
		Constraints: pitch.DefaultConstraints(),
	})
	require.NoError(t, err)
	return svc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func multipartUpload(t *testing.T, mediaType string, content []byte, persona string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="deck.pdf"`)
	h.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if persona != "" {
		require.NoError(t, mw.WriteField("persona", persona))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, url, token, mediaType string, content []byte, persona string) *http.Response {
	t.Helper()
	body, contentType := multipartUpload(t, mediaType, content, persona)
	req, err := http.NewRequest(http.MethodPost, url+"/api/pitches", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestCreateGetAndEndSession(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	res := postJSON(t, f.ts.URL+"/v1/intake/session", map[string]string{
		"user_id": "user-1",
		"persona": "Lori",
		"mode":    "microphone",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[session.CreateResponse](t, res)
	require.NotEmpty(t, created.SessionID)
	assert.Equal(t, "lori", created.Persona)
	assert.Equal(t, "microphone", created.Mode)
	assert.Equal(t, "/v1/intake/session/ws?session_id="+created.SessionID, created.WebSocketPath)
	assert.Equal(t, int64(120000), created.InactivityTTLMS)

	getRes, err := http.Get(f.ts.URL + "/v1/intake/session/" + created.SessionID)
	require.NoError(t, err)
	defer getRes.Body.Close()
	assert.Equal(t, http.StatusOK, getRes.StatusCode)

	endRes := postJSON(t, f.ts.URL+"/v1/intake/session/"+created.SessionID+"/end", nil)
	require.Equal(t, http.StatusOK, endRes.StatusCode)
	ended := decodeBody[session.Session](t, endRes)
	assert.Equal(t, session.StatusEnded, ended.Status)

	missing := postJSON(t, f.ts.URL+"/v1/intake/session/nope/end", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCreateSessionDefaultsPersona(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	res := postJSON(t, f.ts.URL+"/v1/intake/session", map[string]string{"mode": "microphone"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[session.CreateResponse](t, res)
	assert.Equal(t, "mark", created.Persona)
	assert.Empty(t, created.UserID)
}

func TestCreateSessionRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	cases := []struct {
		name string
		body map[string]string
		code string
	}{
		{"unknown persona", map[string]string{"persona": "oprah", "mode": "microphone"}, "unknown_persona"},
		{"unknown mode", map[string]string{"mode": "telepathy"}, "invalid_mode"},
		{"upload without pitch", map[string]string{"mode": "upload"}, "missing_pitch_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(t, f.ts.URL+"/v1/intake/session", tc.body)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
			got := decodeBody[errorResponse](t, res)
			assert.Equal(t, tc.code, got.Code)
		})
	}
}

func TestSubmitPitchThroughHTTPClient(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)
	client, err := pitch.NewHTTPClient(pitch.HTTPConfig{BaseURL: f.ts.URL})
	require.NoError(t, err)

	content := []byte("%PDF-1.4 deck")
	receipt, err := client.Submit(context.Background(), pitch.Upload{
		Filename:  "deck.pdf",
		MediaType: pitch.DefaultMediaType,
		Size:      int64(len(content)),
		Body:      bytes.NewReader(content),
	}, "kevin", "tok")
	require.NoError(t, err)
	require.NotEmpty(t, receipt.PitchID)
	assert.Equal(t, pitch.StatusUploaded, receipt.Status)

	var statuses []pitch.Status
	for i := 0; i < 5; i++ {
		report, err := client.Poll(context.Background(), receipt.PitchID)
		require.NoError(t, err)
		statuses = append(statuses, report.Status)
	}
	assert.Equal(t, []pitch.Status{
		pitch.StatusProcessing, pitch.StatusProcessing, pitch.StatusProcessing,
		pitch.StatusReady, pitch.StatusReady,
	}, statuses)
}

func TestSubmitPitchValidationOrder(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	cases := []struct {
		name      string
		token     string
		mediaType string
		status    int
		code      string
		detail    string
	}{
		{"wrong type wins over missing token", "", "image/png", http.StatusUnsupportedMediaType, "invalid_media_type", "Please upload a PDF."},
		{"missing token", "", pitch.DefaultMediaType, http.StatusUnauthorized, "unauthenticated", "Please sign in to upload."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postUpload(t, f.ts.URL, tc.token, tc.mediaType, []byte("%PDF-1.4"), "")
			require.Equal(t, tc.status, res.StatusCode)
			got := decodeBody[errorResponse](t, res)
			assert.Equal(t, tc.code, got.Code)
			assert.Equal(t, tc.detail, got.Detail)
		})
	}
}

func TestSubmitPitchTooLarge(t *testing.T) {
	svc := pitchsvc.NewMockService(pitch.NewMockClient(pitch.MockConfig{}), pitch.Constraints{MediaType: pitch.DefaultMediaType, MaxBytes: 16})
	f := newFixture(t, svc, nil)

	res := postUpload(t, f.ts.URL, "tok", pitch.DefaultMediaType, bytes.Repeat([]byte("x"), 17), "")
	require.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	got := decodeBody[errorResponse](t, res)
	assert.Equal(t, "payload_too_large", got.Code)
	assert.Equal(t, "File must be 20MB or less.", got.Detail)
}

func TestSubmitPitchOversizedBodyRefusedBeforeMediaType(t *testing.T) {
	svc := pitchsvc.NewMockService(pitch.NewMockClient(pitch.MockConfig{}), pitch.Constraints{MediaType: pitch.DefaultMediaType, MaxBytes: 16})
	f := newFixture(t, svc, nil)

	content := bytes.Repeat([]byte("x"), multipartOverhead+64)
	res := postUpload(t, f.ts.URL, "", "image/png", content, "")
	require.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	got := decodeBody[errorResponse](t, res)
	assert.Equal(t, "payload_too_large", got.Code)
}

func TestSubmitPitchSurfacesDetailToClient(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)
	client, err := pitch.NewHTTPClient(pitch.HTTPConfig{BaseURL: f.ts.URL})
	require.NoError(t, err)

	content := []byte("%PDF-1.4")
	_, err = client.Submit(context.Background(), pitch.Upload{
		Filename:  "deck.pdf",
		MediaType: pitch.DefaultMediaType,
		Size:      int64(len(content)),
		Body:      bytes.NewReader(content),
	}, "oprah", "tok")
	var upErr *pitch.UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)
	assert.Contains(t, upErr.Detail, "unknown persona")
}

func TestSubmitPitchVerifiesSignedTokens(t *testing.T) {
	verifier, err := auth.NewHMACVerifier("secret")
	require.NoError(t, err)
	f := newFixture(t, storedPitches(t), verifier)

	bad := postUpload(t, f.ts.URL, "not-a-jwt", pitch.DefaultMediaType, []byte("%PDF-1.4"), "")
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	signer, err := auth.NewSigner("secret", "user-7", time.Hour)
	require.NoError(t, err)
	token, err := signer.Sign("user-7", auth.DefaultTemplate)
	require.NoError(t, err)

	res := postUpload(t, f.ts.URL, token, pitch.DefaultMediaType, []byte("%PDF-1.4"), "barbara")
	require.Equal(t, http.StatusOK, res.StatusCode)
	receipt := decodeBody[pitch.Receipt](t, res)

	detailRes, err := http.Get(f.ts.URL + "/api/pitches/" + receipt.PitchID)
	require.NoError(t, err)
	defer detailRes.Body.Close()
	require.Equal(t, http.StatusOK, detailRes.StatusCode)
	detail := decodeBody[map[string]any](t, detailRes)
	assert.Equal(t, "user-7", detail["user_id"])
	assert.Equal(t, "barbara", detail["persona"])
	assert.NotEmpty(t, detail["download_url"])
}

func TestPitchStatusNotFound(t *testing.T) {
	f := newFixture(t, storedPitches(t), nil)

	res, err := http.Get(f.ts.URL + "/api/pitches/missing/status")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDescribeUnsupportedInMockMode(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	res, err := http.Get(f.ts.URL + "/api/pitches/anything")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, res.StatusCode)
}

func TestListPersonas(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	res, err := http.Get(f.ts.URL + "/api/personas")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody[struct {
		Default  string `json:"default"`
		Personas []struct {
			Key string `json:"key"`
		} `json:"personas"`
	}](t, res)
	assert.Equal(t, "mark", body.Default)
	assert.Len(t, body.Personas, 6)
}

func TestOperationalRoutes(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/intake", "/v1/onboarding/status", "/metrics"} {
		res, err := http.Get(f.ts.URL + path)
		require.NoError(t, err, path)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
	}

	res, err := http.Get(f.ts.URL + "/v1/onboarding/status")
	require.NoError(t, err)
	defer res.Body.Close()
	status := decodeBody[onboardingStatusResponse](t, res)
	assert.Equal(t, pitchsvc.ModeMock, status.PitchMode)
	ids := make([]string, 0, len(status.Checks))
	for _, c := range status.Checks {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "pitch_backend")
	assert.Contains(t, ids, "auth_signing_key")
}

func dialSession(t *testing.T, f *fixture, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/intake/session/ws?session_id=" + sessionID
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	res.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSessionWebSocketEndDrainsRelease(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)
	sess, _ := f.sessions.Create(session.CreateRequest{UserID: "u1", Persona: "mark", Mode: "microphone"})

	conn := dialSession(t, f, sess.ID)
	assert.Equal(t, "session_ready", readType(t, conn)["code"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "tunnel_ready", "session_id": sess.ID}))
	echo := readType(t, conn)
	assert.Equal(t, "echo", echo["code"])
	assert.Equal(t, "tunnel_ready", echo["detail"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	assert.Equal(t, "error_event", readType(t, conn)["type"])

	endRes := postJSON(t, f.ts.URL+"/v1/intake/session/"+sess.ID+"/end", nil)
	require.Equal(t, http.StatusOK, endRes.StatusCode)

	assert.Equal(t, "media_release", readType(t, conn)["type"])
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestSessionWebSocketRejectsSecondConnection(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)
	sess, _ := f.sessions.Create(session.CreateRequest{UserID: "u1", Persona: "mark", Mode: "microphone"})

	conn := dialSession(t, f, sess.ID)
	assert.Equal(t, "session_ready", readType(t, conn)["code"])

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/intake/session/ws?session_id=" + sess.ID
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestReplacingSessionStopsLiveConnection(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	first := postJSON(t, f.ts.URL+"/v1/intake/session", map[string]string{"user_id": "u1", "mode": "microphone"})
	created := decodeBody[session.CreateResponse](t, first)
	conn := dialSession(t, f, created.SessionID)
	assert.Equal(t, "session_ready", readType(t, conn)["code"])

	second := postJSON(t, f.ts.URL+"/v1/intake/session", map[string]string{"user_id": "u1", "mode": "microphone"})
	require.Equal(t, http.StatusCreated, second.StatusCode)

	assert.Equal(t, "media_release", readType(t, conn)["type"])
}

func TestSessionWebSocketUnknownSession(t *testing.T) {
	f := newFixture(t, mockPitches(), nil)

	res, err := http.Get(f.ts.URL + "/v1/intake/session/ws?session_id=missing")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
