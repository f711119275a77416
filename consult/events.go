package consult

import "github.com/room4-2/GramHealth/voice"

// EventSink receives everything a client needs to render a consultation.
// Methods are called with the controller lock held and must not call back
// into the controller.
type EventSink interface {
	StatusChanged(sessionID string, status Status)
	TurnAppended(sessionID string, turn Turn)
	Thinking(sessionID string, thinking bool)
	Notice(sessionID string, notice Notice)
	VoiceModeChanged(sessionID string, mode voice.Mode)
	Subtitle(sessionID string, text string)
	SessionClosed(snapshot Snapshot)
}

// NopEvents discards every event. Embed it to implement a subset.
type NopEvents struct{}

func (NopEvents) StatusChanged(string, Status) {}
func (NopEvents) TurnAppended(string, Turn) {}
func (NopEvents) Thinking(string, bool) {}
func (NopEvents) Notice(string, Notice) {}
func (NopEvents) VoiceModeChanged(string, voice.Mode) {}
func (NopEvents) Subtitle(string, string) {}
func (NopEvents) SessionClosed(Snapshot) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) StatusChanged(id string, status Status) {
	for _, s := range m {
		s.StatusChanged(id, status)
	}
}

func (m MultiSink) TurnAppended(id string, turn Turn) {
	for _, s := range m {
		s.TurnAppended(id, turn)
	}
}

func (m MultiSink) Thinking(id string, thinking bool) {
	for _, s := range m {
		s.Thinking(id, thinking)
	}
}

func (m MultiSink) Notice(id string, notice Notice) {
	for _, s := range m {
		s.Notice(id, notice)
	}
}

func (m MultiSink) VoiceModeChanged(id string, mode voice.Mode) {
	for _, s := range m {
		s.VoiceModeChanged(id, mode)
	}
}

func (m MultiSink) Subtitle(id string, text string) {
	for _, s := range m {
		s.Subtitle(id, text)
	}
}

func (m MultiSink) SessionClosed(snapshot Snapshot) {
	for _, s := range m {
		s.SessionClosed(snapshot)
	}
}

// voiceEvents adapts the session sink to the voice controller.
type voiceEvents struct {
	sessionID string
	sink      EventSink
}

func (v voiceEvents) ModeChanged(mode voice.Mode) {
	v.sink.VoiceModeChanged(v.sessionID, mode)
}

func (v voiceEvents) Subtitle(text string) {
	v.sink.Subtitle(v.sessionID, text)
}
