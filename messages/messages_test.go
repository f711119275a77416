package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"type":"open","payload":{"modality":"audio","canSpeak":true}}`))
	require.NoError(t, err)
	require.Equal(t, TypeOpen, msg.Type)

	var open OpenPayload
	require.NoError(t, msg.Decode(&open))
	require.Equal(t, OpenPayload{Modality: "audio", CanSpeak: true}, open)

	// control messages may omit the payload
	msg, err = Parse([]byte(`{"type":"control"}`))
	require.NoError(t, err)
	var ctrl ControlPayload
	require.NoError(t, msg.Decode(&ctrl))
	require.Empty(t, ctrl.Action)
}

func TestServerMessageShape(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1700000000123)
	raw, err := Encode(NewTurnMessage("s1", "assistant", "Namaste", at, "greeting", "SESSION_GREETING"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"turn","sessionId":"s1","payload":{"speaker":"assistant","text":"Namaste","timestamp":1700000000123,"source":"greeting","responseKey":"SESSION_GREETING"}}`, string(raw))

	raw, err = Encode(NewListenMessage("s1", 7))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"listen","sessionId":"s1","payload":{"id":7}}`, string(raw))

	raw, err = Encode(NewCancelSpeechMessage("s1"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"cancel_speech","sessionId":"s1","payload":{}}`, string(raw))

	raw, err = Encode(NewSpeakMessage("s1", 3, "Namaste", "hi-IN"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"speak","sessionId":"s1","payload":{"id":3,"text":"Namaste","locale":"hi-IN"}}`, string(raw))

	raw, err = Encode(NewModeMessage("s1", "listening"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"mode","sessionId":"s1","payload":{"mode":"listening"}}`, string(raw))

	raw, err = Encode(NewNoticeMessage("s1", "warning", "AI unavailable"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"notice","sessionId":"s1","payload":{"level":"warning","message":"AI unavailable"}}`, string(raw))
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"type":`))
	require.Error(t, err)
}
