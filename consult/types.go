// Package consult drives a simulated doctor consultation: session lifecycle,
// chat and voice modalities, and the remote advisor with its offline triage
// fallback.
package consult

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/room4-2/GramHealth/triage"
)

var (
	ErrNoActiveSession = errors.New("no active consultation")
	ErrNotConnected    = errors.New("consultation is still connecting")
	ErrSessionClosed   = errors.New("consultation has ended")
	ErrInvalidModality = errors.New("invalid modality")
)

// Modality is the interaction channel of a consultation.
type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	switch m {
	case ModalityChat, ModalityAudio, ModalityVideo:
		return true
	}
	return false
}

// IsVoice reports whether replies are spoken. Video behaves as audio.
func (m Modality) IsVoice() bool {
	return m == ModalityAudio || m == ModalityVideo
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
)

// Speaker attributes a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TurnSource tells where an assistant turn came from.
type TurnSource string

const (
	SourceGreeting TurnSource = "greeting"
	SourceRemote   TurnSource = "remote"
	SourceFallback TurnSource = "fallback"
)

// Turn is one message of the transcript.
type Turn struct {
	Speaker     Speaker            `json:"speaker"`
	Text        string             `json:"text"`
	Timestamp   time.Time          `json:"timestamp"`
	Source      TurnSource         `json:"source,omitempty"`
	ResponseKey triage.ResponseKey `json:"responseKey,omitempty"`
}

// Advisor is the remote generative-text boundary. Any error means the advisor
// is unavailable for this turn.
type Advisor interface {
	Ask(ctx context.Context, userText string, history []Turn, contextSummary string) (string, error)
}

// Notice is a non-blocking user-visible notification.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID          string       `json:"id"`
	Modality    Modality     `json:"modality"`
	Status      Status       `json:"status"`
	StartedAt   time.Time    `json:"startedAt"`
	ConnectedAt time.Time    `json:"connectedAt,omitempty"`
	EndedAt     time.Time    `json:"endedAt,omitempty"`
	Transcript  []Turn       `json:"transcript"`
	Triage      triage.State `json:"triage"`
}

// DurationSeconds is the call time in whole seconds. It only runs while an
// audio or video session is connected.
func (s Snapshot) DurationSeconds(now time.Time) int {
	if !s.Modality.IsVoice() || s.ConnectedAt.IsZero() {
		return 0
	}
	end := now
	if !s.EndedAt.IsZero() {
		end = s.EndedAt
	}
	if end.Before(s.ConnectedAt) {
		return 0
	}
	return int(end.Sub(s.ConnectedAt) / time.Second)
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
