package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/pitchroom/pitchroom/internal/protocol"
	"github.com/pitchroom/pitchroom/internal/session"
)

type sessionOptions struct {
	baseURL  string
	userID   string
	persona  string
	mode     string
	pitchID  string
	grant    string
	attempts int
	timeout  time.Duration
}

// wsEnvelope is the union of the server message fields pitchctl reads.
type wsEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Icon      string `json:"icon,omitempty"`
	Action    string `json:"action,omitempty"`
	Route     string `json:"route,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func newSessionCmd(c *cli) *cobra.Command {
	opts := sessionOptions{}
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Drive a server-hosted intake session over its WebSocket, answering the microphone request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.baseURL = c.cfg.PitchAPIURL
			opts.userID = c.user
			opts.persona = c.persona
			route, err := runSession(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), route)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "microphone", "intake mode: microphone|upload")
	cmd.Flags().StringVar(&opts.pitchID, "pitch-id", "", "tracking id for the upload mode")
	cmd.Flags().StringVar(&opts.grant, "grant", "prompt", "answer to microphone requests: prompt|yes|no")
	cmd.Flags().IntVar(&opts.attempts, "attempts", 3, "how many microphone requests (or processing retries) to answer")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}

func runSession(ctx context.Context, opts sessionOptions, in io.Reader, out io.Writer) (string, error) {
	switch opts.grant {
	case "prompt", "yes", "no":
	default:
		return "", fmt.Errorf("invalid --grant %q (expected prompt|yes|no)", opts.grant)
	}
	if opts.attempts <= 0 {
		opts.attempts = 1
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	created, err := createSession(ctx, httpClient, opts)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, opts.baseURL, created.SessionID)
	}()

	wsURL, err := wsURLForSession(opts.baseURL, created.SessionID)
	if err != nil {
		return "", fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return "", fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	msgCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readLoop(conn, msgCh, readErrCh, done)

	send := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(v)
	}
	if err := send(protocol.ClientSignal{Type: protocol.TypeTunnelReady, SessionID: created.SessionID}); err != nil {
		return "", fmt.Errorf("send tunnel_ready: %w", err)
	}

	terminal := bufio.NewReader(in)
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-readErrCh:
			return "", fmt.Errorf("ws read: %w", err)
		case env := <-msgCh:
			switch protocol.MessageType(env.Type) {
			case protocol.TypeNarration:
				line := env.Title
				if env.Sub != "" {
					line += ": " + env.Sub
				}
				fmt.Fprintln(out, line)
				if env.Icon == "mic-error" || env.Icon == "error" {
					retries++
					if retries >= opts.attempts {
						return "", errGaveUp
					}
					next := protocol.TypeEnableMicrophone
					if env.Action == "retry_processing" {
						next = protocol.TypeRetryProcessing
					}
					if err := send(protocol.ClientSignal{Type: next, SessionID: created.SessionID}); err != nil {
						return "", err
					}
				}
			case protocol.TypePermissionRequest:
				granted, reason := answerPermission(opts.grant, terminal, out)
				if err := send(protocol.PermissionResult{
					Type:      protocol.TypePermissionResult,
					SessionID: created.SessionID,
					RequestID: env.RequestID,
					Granted:   granted,
					Reason:    reason,
				}); err != nil {
					return "", err
				}
			case protocol.TypeMediaRelease:
				fmt.Fprintln(out, "microphone released")
			case protocol.TypeNavigate:
				return env.Route, nil
			case protocol.TypeErrorEvent:
				fmt.Fprintf(out, "error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

func answerPermission(mode string, terminal *bufio.Reader, out io.Writer) (bool, string) {
	switch mode {
	case "yes":
		return true, ""
	case "no":
		return false, "NotAllowedError"
	}
	fmt.Fprint(out, "Allow microphone access? [y/N] ")
	line, err := terminal.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err.Error()
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, ""
	default:
		return false, "NotAllowedError"
	}
}

func createSession(ctx context.Context, client *http.Client, opts sessionOptions) (session.CreateResponse, error) {
	payload, err := json.Marshal(session.CreateRequest{
		UserID:  opts.userID,
		Persona: opts.persona,
		Mode:    opts.mode,
		PitchID: opts.pitchID,
	})
	if err != nil {
		return session.CreateResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/v1/intake/session", bytes.NewReader(payload))
	if err != nil {
		return session.CreateResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return session.CreateResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return session.CreateResponse{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return session.CreateResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out session.CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return session.CreateResponse{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return session.CreateResponse{}, fmt.Errorf("missing session_id in response")
	}
	return out, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/intake/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/intake/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, msgCh chan<- wsEnvelope, readErrCh chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case msgCh <- env:
		case <-done:
			return
		}
	}
}
