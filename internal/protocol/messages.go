package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTunnelReady      MessageType = "tunnel_ready"
	TypePermissionResult MessageType = "permission_result"
	TypeEnableMicrophone MessageType = "enable_microphone"
	TypeRetryProcessing  MessageType = "retry_processing"
	TypeSkip             MessageType = "skip"
	TypeTunnelComplete   MessageType = "tunnel_complete"

	TypeStateChanged      MessageType = "state_changed"
	TypeNarration         MessageType = "narration"
	TypePermissionRequest MessageType = "permission_request"
	TypeMediaRelease      MessageType = "media_release"
	TypeNavigate          MessageType = "navigate"
	TypeSystemEvent       MessageType = "system_event"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientSignal is a payload-free client message: tunnel_ready,
// enable_microphone, retry_processing, skip or tunnel_complete.
type ClientSignal struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// PermissionResult answers a permission_request with the browser's
// getUserMedia outcome.
type PermissionResult struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id"`
	Granted   bool        `json:"granted"`
	Reason    string      `json:"reason,omitempty"`
}

type StateChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	TSMs      int64       `json:"ts_ms"`
}

type Narration struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Title     string      `json:"title"`
	Sub       string      `json:"sub,omitempty"`
	Icon      string      `json:"icon"`
	Action    string      `json:"action,omitempty"`
}

// PermissionRequest asks the browser to open the microphone.
type PermissionRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id"`
}

// MediaRelease tells the browser to stop every track of the stream it
// opened for RequestID.
type MediaRelease struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id"`
}

type Navigate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Route     string      `json:"route"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTunnelReady, TypeEnableMicrophone, TypeRetryProcessing, TypeSkip, TypeTunnelComplete:
		var msg ClientSignal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("invalid %s", env.Type)
		}
		return msg, nil
	case TypePermissionResult:
		var msg PermissionResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.RequestID == "" {
			return nil, errors.New("invalid permission_result")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of any message defined in this package.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientSignal:
		return m.Type, true
	case PermissionResult:
		return m.Type, true
	case StateChanged:
		return m.Type, true
	case Narration:
		return m.Type, true
	case PermissionRequest:
		return m.Type, true
	case MediaRelease:
		return m.Type, true
	case Navigate:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
