package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type traceLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *traceLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *traceLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *traceLog) indexOf(entry string) int {
	for i, e := range l.snapshot() {
		if e == entry {
			return i
		}
	}
	return -1
}

// fakeSynth finishes playback when release is signalled or ctx ends.
type fakeSynth struct {
	trace   *traceLog
	release chan struct{}
	spoken  chan string
}

func newFakeSynth(trace *traceLog) *fakeSynth {
	return &fakeSynth{trace: trace, release: make(chan struct{}, 16), spoken: make(chan string, 16)}
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) error {
	s.trace.add("synthesis-start")
	s.spoken <- text
	select {
	case <-s.release:
		s.trace.add("synthesis-end")
		return nil
	case <-ctx.Done():
		s.trace.add("synthesis-cancel")
		return ctx.Err()
	}
}

// fakeRecognizer hands out queued utterances and blocks when the queue is empty.
type fakeRecognizer struct {
	trace     *traceLog
	results   chan recognition
	capturing chan struct{}
}

type recognition struct {
	text string
	err  error
}

func newFakeRecognizer(trace *traceLog) *fakeRecognizer {
	return &fakeRecognizer{trace: trace, results: make(chan recognition, 16), capturing: make(chan struct{}, 16)}
}

func (r *fakeRecognizer) Recognize(ctx context.Context) (string, error) {
	r.trace.add("capture-start")
	r.capturing <- struct{}{}
	select {
	case res := <-r.results:
		return res.text, res.err
	case <-ctx.Done():
		r.trace.add("capture-cancel")
		return "", ctx.Err()
	}
}

type recordingSink struct {
	mu        sync.Mutex
	modes     []Mode
	subtitles []string
}

func (s *recordingSink) ModeChanged(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, mode)
}

func (s *recordingSink) Subtitle(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subtitles = append(s.subtitles, text)
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.modes), len(s.subtitles)
}

func echoHandler(prefix string) TurnHandler {
	return func(ctx context.Context, utterance string) (string, error) {
		return prefix + utterance, nil
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestSpeakCancelsCaptureBeforeSynthesis(t *testing.T) {
	t.Parallel()

	trace := &traceLog{}
	synth := newFakeSynth(trace)
	rec := newFakeRecognizer(trace)
	c := NewController(synth, rec, echoHandler(""), &recordingSink{}, Config{})
	defer c.Close()

	require.NoError(t, c.Listen())
	waitFor(t, rec.capturing)
	require.Equal(t, ModeListening, c.Mode())

	require.NoError(t, c.Speak("take rest"))
	require.Equal(t, "take rest", <-synth.spoken)

	cancelAt := trace.indexOf("capture-cancel")
	startAt := trace.indexOf("synthesis-start")
	require.GreaterOrEqual(t, cancelAt, 0)
	require.Greater(t, startAt, cancelAt)
	require.Equal(t, ModeSpeaking, c.Mode())
}

func TestTurnLoopSpeaksHandlerReply(t *testing.T) {
	t.Parallel()

	trace := &traceLog{}
	synth := newFakeSynth(trace)
	rec := newFakeRecognizer(trace)
	sink := &recordingSink{}
	c := NewController(synth, rec, echoHandler("reply to: "), sink, Config{})
	defer c.Close()

	require.NoError(t, c.Speak("Namaste"))
	require.Equal(t, "Namaste", <-synth.spoken)
	synth.release <- struct{}{}

	waitFor(t, rec.capturing)
	rec.results <- recognition{text: "I have a fever"}

	require.Equal(t, "reply to: I have a fever", <-synth.spoken)
	synth.release <- struct{}{}

	// the loop goes back to listening after the reply
	waitFor(t, rec.capturing)
	require.Equal(t, ModeListening, c.Mode())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []Mode{ModeSpeaking, ModeListening, ModeProcessing, ModeSpeaking, ModeListening}, sink.modes)
	require.Contains(t, sink.subtitles, `You said: "I have a fever"`)
}

func TestRecognitionErrorListensAgain(t *testing.T) {
	t.Parallel()

	trace := &traceLog{}
	rec := newFakeRecognizer(trace)
	sink := &recordingSink{}
	c := NewController(newFakeSynth(trace), rec, echoHandler(""), sink, Config{})
	defer c.Close()

	require.NoError(t, c.Listen())
	waitFor(t, rec.capturing)
	rec.results <- recognition{err: errors.New("no-speech")}
	waitFor(t, rec.capturing)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Contains(t, sink.subtitles, "Listening... (Speak louder)")
}

func TestMissingCapabilitiesSimulateTurns(t *testing.T) {
	t.Parallel()

	utterances := make(chan string, 4)
	handler := func(ctx context.Context, utterance string) (string, error) {
		utterances <- utterance
		return "simulated reply", nil
	}
	cfg := Config{SimulatedSpeech: 5 * time.Millisecond, SimulatedListen: 5 * time.Millisecond, SimulatedUtterance: "I have a fever"}
	c := NewController(nil, nil, handler, &recordingSink{}, cfg)
	defer c.Close()

	require.NoError(t, c.Speak("Namaste"))

	// the loop keeps going on timers alone
	for i := 0; i < 2; i++ {
		select {
		case got := <-utterances:
			require.Equal(t, "I have a fever", got)
		case <-time.After(2 * time.Second):
			t.Fatal("simulated turn did not happen")
		}
	}
}

func TestCloseStopsEverything(t *testing.T) {
	t.Parallel()

	trace := &traceLog{}
	synth := newFakeSynth(trace)
	sink := &recordingSink{}
	c := NewController(synth, newFakeRecognizer(trace), echoHandler(""), sink, Config{})

	require.NoError(t, c.Speak("hello"))
	<-synth.spoken
	c.Close()

	require.GreaterOrEqual(t, trace.indexOf("synthesis-cancel"), 0)
	modes, subtitles := sink.counts()

	// a late release must not restart the loop
	synth.release <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	modesAfter, subtitlesAfter := sink.counts()
	require.Equal(t, modes, modesAfter)
	require.Equal(t, subtitles, subtitlesAfter)

	require.ErrorIs(t, c.Speak("again"), ErrClosed)
	require.ErrorIs(t, c.Listen(), ErrClosed)
	require.Equal(t, ModeIdle, c.Mode())
}

func TestHandlerErrorEndsLoop(t *testing.T) {
	t.Parallel()

	trace := &traceLog{}
	rec := newFakeRecognizer(trace)
	handler := func(ctx context.Context, utterance string) (string, error) {
		return "", errors.New("session closed")
	}
	c := NewController(newFakeSynth(trace), rec, handler, &recordingSink{}, Config{})
	defer c.Close()

	require.NoError(t, c.Listen())
	waitFor(t, rec.capturing)
	rec.results <- recognition{text: "hello"}

	require.Eventually(t, func() bool { return c.Mode() == ModeIdle }, time.Second, 5*time.Millisecond)
}

func TestLocaleFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hi-IN", LocaleFor("hi"))
	require.Equal(t, "en-US", LocaleFor("xx"))
}
