package pitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/logging"
)

const maxErrorBody = 64 << 10

// HTTPConfig configures the client for the real pitch API.
type HTTPConfig struct {
	BaseURL     string
	Constraints Constraints
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// HTTPClient talks to POST /api/pitches and GET /api/pitches/{id}/status.
type HTTPClient struct {
	baseURL     string
	constraints Constraints
	http        *http.Client
	logger      *zap.Logger
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("pitch api base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse pitch api base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:     base,
		constraints: cfg.Constraints.normalized(),
		http:        hc,
		logger:      logger,
	}, nil
}

func (c *HTTPClient) Submit(ctx context.Context, upload Upload, persona, token string) (Receipt, error) {
	if err := Validate(upload, token, c.constraints); err != nil {
		return Receipt{}, err
	}

	body, contentType, err := encodeMultipart(upload, persona)
	if err != nil {
		return Receipt{}, &UploadError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pitches", body)
	if err != nil {
		return Receipt{}, &UploadError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		return Receipt{}, &UploadError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		detail := readDetail(res.Body)
		c.logger.Warn("pitch upload rejected",
			zap.Int("status", res.StatusCode),
			zap.String("detail", logging.Redact(detail)),
		)
		return Receipt{}, &UploadError{StatusCode: res.StatusCode, Detail: detail}
	}

	var receipt Receipt
	if err := json.NewDecoder(res.Body).Decode(&receipt); err != nil {
		return Receipt{}, &UploadError{StatusCode: res.StatusCode, Err: fmt.Errorf("decode upload response: %w", err)}
	}
	if receipt.PitchID == "" {
		return Receipt{}, &UploadError{StatusCode: res.StatusCode, Detail: "upload response is missing pitchId"}
	}
	return receipt, nil
}

func (c *HTTPClient) Poll(ctx context.Context, pitchID string) (StatusReport, error) {
	if strings.TrimSpace(pitchID) == "" {
		return StatusReport{}, ErrNotFound
	}
	endpoint := c.baseURL + "/api/pitches/" + url.PathEscape(pitchID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusReport{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return StatusReport{}, fmt.Errorf("status request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return StatusReport{}, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return StatusReport{}, &StatusCheckError{StatusCode: res.StatusCode, Detail: readDetail(res.Body)}
	}

	var report StatusReport
	if err := json.NewDecoder(res.Body).Decode(&report); err != nil {
		return StatusReport{}, fmt.Errorf("decode status response: %w", err)
	}
	if report.PitchID == "" {
		report.PitchID = pitchID
	}
	return report, nil
}

func encodeMultipart(upload Upload, persona string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(upload.Filename)))
	h.Set("Content-Type", upload.MediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if upload.Body != nil {
		if _, err := io.Copy(part, upload.Body); err != nil {
			return nil, "", fmt.Errorf("read upload body: %w", err)
		}
	}
	if err := mw.WriteField("persona", persona); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// readDetail extracts {"detail": "..."} when the body is JSON and falls back
// to the trimmed text otherwise.
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Detail != nil {
		switch d := payload.Detail.(type) {
		case string:
			return d
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
	}
	return text
}

var _ Client = (*HTTPClient)(nil)
