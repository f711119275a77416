package messages

import "time"

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

// Server message types
const (
	TypeStatus       = "status"
	TypeTurn         = "turn"
	TypeSpeak        = "speak"
	TypeCancelSpeech = "cancel_speech"
	TypeListen       = "listen"
	TypeCancelListen = "cancel_listen"
	TypeMode         = "mode"
	TypeSubtitle     = "subtitle"
	TypeNotice       = "notice"
	TypeError        = "error"
)

// Statuses that are not session statuses
const (
	StatusPong     = "pong"
	StatusThinking = "thinking"
	StatusIdle     = "idle"
)

// ServerMessage represents a message sent to frontend client
type ServerMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connecting", "connected", "ended", "pong", "thinking", "idle"
	Message string `json:"message,omitempty"`
}

// TurnPayload is one transcript entry
type TurnPayload struct {
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"` // unix millis
	Source      string `json:"source,omitempty"`
	ResponseKey string `json:"responseKey,omitempty"`
}

// SpeakPayload asks the client to play text
type SpeakPayload struct {
	ID     uint64 `json:"id"`
	Text   string `json:"text"`
	Locale string `json:"locale,omitempty"`
}

// ListenPayload asks the client to capture one utterance
type ListenPayload struct {
	ID uint64 `json:"id"`
}

// ModePayload reports the turn-taking mode
type ModePayload struct {
	Mode string `json:"mode"`
}

// SubtitlePayload is the live caption under the call view
type SubtitlePayload struct {
	Text string `json:"text"`
}

// NoticePayload is a transient notification
type NoticePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type empty struct{}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewTurnMessage creates a transcript entry message
func NewTurnMessage(sessionID, speaker, text string, at time.Time, source, responseKey string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTurn,
		SessionID: sessionID,
		Payload: TurnPayload{
			Speaker:     speaker,
			Text:        text,
			Timestamp:   at.UnixMilli(),
			Source:      source,
			ResponseKey: responseKey,
		},
	}
}

// NewSpeakMessage creates a playback request
func NewSpeakMessage(sessionID string, id uint64, text, locale string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeSpeak,
		SessionID: sessionID,
		Payload: SpeakPayload{
			ID:     id,
			Text:   text,
			Locale: locale,
		},
	}
}

// NewCancelSpeechMessage creates a message that stops playback
func NewCancelSpeechMessage(sessionID string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeCancelSpeech,
		SessionID: sessionID,
		Payload:   empty{},
	}
}

// NewListenMessage creates a capture request
func NewListenMessage(sessionID string, id uint64) *ServerMessage {
	return &ServerMessage{
		Type:      TypeListen,
		SessionID: sessionID,
		Payload: ListenPayload{
			ID: id,
		},
	}
}

// NewCancelListenMessage creates a message that stops capture
func NewCancelListenMessage(sessionID string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeCancelListen,
		SessionID: sessionID,
		Payload:   empty{},
	}
}

// NewModeMessage creates a turn-taking mode message
func NewModeMessage(sessionID, mode string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeMode,
		SessionID: sessionID,
		Payload: ModePayload{
			Mode: mode,
		},
	}
}

// NewSubtitleMessage creates a live caption message
func NewSubtitleMessage(sessionID, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeSubtitle,
		SessionID: sessionID,
		Payload: SubtitlePayload{
			Text: text,
		},
	}
}

// NewNoticeMessage creates a transient notification message
func NewNoticeMessage(sessionID, level, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeNotice,
		SessionID: sessionID,
		Payload: NoticePayload{
			Level:   level,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
