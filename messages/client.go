package messages

import "encoding/json"

// Client message types
const (
	TypeOpen       = "open"
	TypeText       = "text"
	TypeSpeech     = "speech"
	TypeTranscript = "transcript"
	TypeControl    = "control"
)

// ClientMessage represents a message from frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "open", "text", "speech", "transcript", "control"
	Payload json.RawMessage `json:"payload"`
}

// OpenPayload starts a consultation. canSpeak/canListen report whether the
// client has speech synthesis and recognition.
type OpenPayload struct {
	Modality  string `json:"modality"` // "chat", "audio", "video"
	CanSpeak  bool   `json:"canSpeak"`
	CanListen bool   `json:"canListen"`
	Language  string `json:"language,omitempty"`
}

// TextPayload carries typed user input
type TextPayload struct {
	Text string `json:"text"`
}

// SpeechPayload reports playback progress. ID echoes the speak request.
type SpeechPayload struct {
	ID    uint64 `json:"id,omitempty"`
	Event string `json:"event"` // "end"
}

// TranscriptPayload carries a recognition result or its failure. ID echoes
// the listen request.
type TranscriptPayload struct {
	ID    uint64 `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end"
}

// Decode unmarshals the payload into v.
func (m *ClientMessage) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return codec.Unmarshal([]byte("{}"), v)
	}
	return codec.Unmarshal(m.Payload, v)
}
