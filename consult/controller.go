package consult

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/GramHealth/triage"
	"github.com/room4-2/GramHealth/voice"
)

const unavailableMessage = "AI unavailable, using offline assistant"

// Config holds the consultation timings.
type Config struct {
	ConnectDelay   time.Duration
	FallbackDelay  time.Duration
	TeardownDelay  time.Duration
	AdvisorTimeout time.Duration
	HistoryWindow  int
	Voice          voice.Config
	Catalog        *triage.Catalog
}

// DefaultConfig returns the standard consultation timings.
func DefaultConfig() Config {
	return Config{
		ConnectDelay:   1500 * time.Millisecond,
		FallbackDelay:  time.Second,
		TeardownDelay:  time.Second,
		AdvisorTimeout: 20 * time.Second,
		HistoryWindow:  4,
		Voice:          voice.DefaultConfig(),
		Catalog:        triage.DefaultCatalog(),
	}
}

// SpeechDevice is the speech hardware of the client the controller serves.
// Either side may be nil when the client lacks the capability.
type SpeechDevice struct {
	Synthesizer voice.Synthesizer
	Recognizer  voice.Recognizer
}

// session is the mutable state behind a Snapshot. All fields are guarded by
// Controller.mu except turnSlot, ctx and voice, which are set once.
type session struct {
	id          string
	modality    Modality
	status      Status
	language    string
	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
	transcript  []Turn
	triage      triage.State

	connectTimer *time.Timer
	tornDown     bool
	voice        *voice.Controller
	turnSlot     chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		ID:          s.id,
		Modality:    s.modality,
		Status:      s.status,
		StartedAt:   s.startedAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     s.endedAt,
		Transcript:  append([]Turn(nil), s.transcript...),
		Triage:      s.triage,
	}
}

// Controller is the single authority over one client's consultation. It holds
// at most one session at a time; opening a new one discards the previous.
type Controller struct {
	advisor Advisor
	events  EventSink
	speech  SpeechDevice
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	session  *session
	language string
}

// NewController creates a controller. events may be nil.
func NewController(advisor Advisor, speech SpeechDevice, events EventSink, cfg Config) *Controller {
	if events == nil {
		events = NopEvents{}
	}
	if cfg.Catalog == nil {
		cfg.Catalog = triage.DefaultCatalog()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 4
	}
	return &Controller{
		advisor: advisor,
		events:  events,
		speech:  speech,
		cfg:     cfg,
		logger:  log.With().Str("component", "consult").Logger(),
		now:     time.Now,
	}
}

// WithLogger replaces the controller's logger.
func (c *Controller) WithLogger(logger zerolog.Logger) *Controller {
	c.logger = logger
	return c
}

// SetSpeech replaces the speech device used by sessions opened afterwards.
func (c *Controller) SetSpeech(speech SpeechDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speech = speech
}

// SetLanguage records the language the client reported. It is passed to the
// advisor by sessions opened afterwards.
func (c *Controller) SetLanguage(language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = strings.TrimSpace(language)
}

// Open starts a new session in the given modality. Any session still held by
// the controller is ended first, so nothing carries over.
func (c *Controller) Open(ctx context.Context, modality Modality) (Snapshot, error) {
	if !modality.Valid() {
		return Snapshot{}, errors.Wrapf(ErrInvalidModality, "%q", modality)
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	previous := c.session
	speech := c.speech
	language := c.language
	c.mu.Unlock()
	if previous != nil {
		c.end(previous)
		c.teardown(previous)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:        uuid.New().String(),
		modality:  modality,
		status:    StatusConnecting,
		startedAt: c.now(),
		language:  language,
		triage:    triage.InitialState(),
		turnSlot:  make(chan struct{}, 1),
		ctx:       sessCtx,
		cancel:    cancel,
	}
	if modality.IsVoice() {
		sess.voice = voice.NewController(
			speech.Synthesizer,
			speech.Recognizer,
			c.voiceTurn(sess),
			voiceEvents{sessionID: sess.id, sink: c.events},
			c.cfg.Voice,
		).WithLogger(c.logger.With().Str("session_id", sess.id).Logger())
	}

	c.mu.Lock()
	// a concurrent Open may have installed its own session in the meantime
	displaced := c.session
	c.session = sess
	sess.connectTimer = time.AfterFunc(c.cfg.ConnectDelay, func() { c.connect(sess) })
	c.events.StatusChanged(sess.id, StatusConnecting)
	snap := sess.snapshot()
	c.mu.Unlock()

	if displaced != nil {
		c.end(displaced)
		c.teardown(displaced)
	}

	c.logger.Info().Str("session_id", sess.id).Str("modality", string(modality)).Msg("consultation opened")
	return snap, nil
}

func (c *Controller) connect(sess *session) {
	c.mu.Lock()
	if c.session != sess || sess.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	sess.status = StatusConnected
	sess.connectedAt = c.now()
	c.events.StatusChanged(sess.id, StatusConnected)

	if !sess.modality.IsVoice() {
		greeting := c.cfg.Catalog.Text(triage.KeySessionGreeting)
		c.appendLocked(sess, Turn{Speaker: SpeakerAssistant, Text: greeting, Source: SourceGreeting, ResponseKey: triage.KeySessionGreeting})
	}
	c.mu.Unlock()

	c.logger.Debug().Str("session_id", sess.id).Msg("consultation connected")
	if sess.voice != nil {
		c.speak(sess, c.cfg.Catalog.Text(triage.KeyVoiceGreeting))
	}
}

// SendUserText records the user's message and produces exactly one assistant
// reply, from the remote advisor or from the offline triage engine. Blank
// input is ignored and returns a nil turn. Sends on one session are handled
// one at a time.
func (c *Controller) SendUserText(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	c.mu.Lock()
	sess := c.session
	var err error
	switch {
	case sess == nil:
		err = ErrNoActiveSession
	case sess.status == StatusConnecting:
		err = ErrNotConnected
	case sess.status == StatusEnded:
		err = ErrSessionClosed
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	reply, err := c.exchange(ctx, sess, text)
	if err != nil {
		return nil, err
	}
	if sess.voice != nil {
		c.speak(sess, reply.Text)
	}
	return reply, nil
}

// voiceTurn routes a captured utterance through the same path as typed text.
// The exchange itself is bound to the session, not to the voice loop, so an
// interrupted loop still leaves a complete pair of turns behind.
func (c *Controller) voiceTurn(sess *session) voice.TurnHandler {
	return func(ctx context.Context, utterance string) (string, error) {
		type result struct {
			turn *Turn
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			turn, err := c.exchange(ctx, sess, utterance)
			ch <- result{turn: turn, err: err}
		}()

		select {
		case res := <-ch:
			if res.err != nil {
				return "", res.err
			}
			return res.turn.Text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// exchange appends the user turn and its reply. ctx only bounds the wait for
// the turn slot; once the user turn is recorded the exchange runs to
// completion unless the session ends.
func (c *Controller) exchange(ctx context.Context, sess *session, text string) (*Turn, error) {
	select {
	case sess.turnSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sess.ctx.Done():
		return nil, ErrSessionClosed
	}
	defer func() { <-sess.turnSlot }()

	c.mu.Lock()
	if !c.liveLocked(sess) {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	history := recentTurns(sess.transcript, c.cfg.HistoryWindow)
	summary := contextSummary(sess)
	c.appendLocked(sess, Turn{Speaker: SpeakerUser, Text: text})
	c.events.Thinking(sess.id, true)
	c.mu.Unlock()

	reply, askErr := c.ask(sess, text, history, summary)

	c.mu.Lock()
	if !c.liveLocked(sess) {
		c.mu.Unlock()
		c.logger.Debug().Str("session_id", sess.id).Msg("discarding advisor result for ended consultation")
		return nil, ErrSessionClosed
	}
	c.events.Thinking(sess.id, false)
	if askErr == nil {
		turn := c.appendLocked(sess, Turn{Speaker: SpeakerAssistant, Text: reply, Source: SourceRemote})
		c.mu.Unlock()
		return &turn, nil
	}
	c.events.Notice(sess.id, Notice{Level: "warning", Message: unavailableMessage})
	c.mu.Unlock()

	c.logger.Warn().Err(askErr).Str("session_id", sess.id).Msg("advisor unavailable, falling back to offline triage")

	if !waitSession(sess, c.cfg.FallbackDelay) {
		return nil, ErrSessionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(sess) {
		return nil, ErrSessionClosed
	}
	res := triage.Transition(text, sess.triage)
	sess.triage = res.Next
	turn := c.appendLocked(sess, Turn{
		Speaker:     SpeakerAssistant,
		Text:        c.cfg.Catalog.Text(res.ResponseKey),
		Source:      SourceFallback,
		ResponseKey: res.ResponseKey,
	})
	c.logger.Debug().
		Str("session_id", sess.id).
		Str("phase", string(res.Next.Phase)).
		Str("symptom", string(res.Next.Symptom)).
		Str("response_key", string(res.ResponseKey)).
		Msg("offline triage reply")
	return &turn, nil
}

func (c *Controller) ask(sess *session, text string, history []Turn, summary string) (string, error) {
	if c.advisor == nil {
		return "", errors.New("no advisor configured")
	}
	ctx := sess.ctx
	if c.cfg.AdvisorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AdvisorTimeout)
		defer cancel()
	}

	reply, err := c.advisor.Ask(ctx, text, history, summary)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("advisor returned an empty answer")
	}
	return reply, nil
}

// Close ends the session: speech stops before Close returns and the session
// is discarded after the teardown delay.
func (c *Controller) Close() error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return ErrNoActiveSession
	}
	if !c.end(sess) {
		return ErrSessionClosed
	}

	time.AfterFunc(c.cfg.TeardownDelay, func() { c.teardown(sess) })
	c.logger.Info().Str("session_id", sess.id).Msg("consultation closed")
	return nil
}

// Dispose ends and discards the current session immediately. It is used when
// the client goes away.
func (c *Controller) Dispose() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.end(sess)
	c.teardown(sess)
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Snapshot{}, false
	}
	return c.session.snapshot(), true
}

// VoiceMode returns the turn-taking mode of a voice session, or idle.
func (c *Controller) VoiceMode() voice.Mode {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil || sess.voice == nil {
		return voice.ModeIdle
	}
	return sess.voice.Mode()
}

// end stops the session's speech, then moves it to ended and cancels every
// pending timer and wait. It reports false if the session had already ended.
func (c *Controller) end(sess *session) bool {
	c.mu.Lock()
	ended := sess.status == StatusEnded
	c.mu.Unlock()
	if ended {
		return false
	}

	// voice events fire under the voice lock, so it is closed before the
	// ended status goes out and never with c.mu held
	if sess.voice != nil {
		sess.voice.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.status == StatusEnded {
		return false
	}
	sess.status = StatusEnded
	sess.endedAt = c.now()
	if sess.connectTimer != nil {
		sess.connectTimer.Stop()
	}
	sess.cancel()
	c.events.StatusChanged(sess.id, StatusEnded)
	return true
}

func (c *Controller) teardown(sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.tornDown {
		return
	}
	sess.tornDown = true
	if c.session == sess {
		c.session = nil
	}
	c.events.SessionClosed(sess.snapshot())
}

func (c *Controller) speak(sess *session, text string) {
	if err := sess.voice.Speak(text); err != nil && !errors.Is(err, voice.ErrClosed) {
		c.logger.Warn().Err(err).Str("session_id", sess.id).Msg("failed to start speech")
	}
}

func (c *Controller) liveLocked(sess *session) bool {
	return c.session == sess && sess.status == StatusConnected
}

func (c *Controller) appendLocked(sess *session, turn Turn) Turn {
	turn.Timestamp = c.now()
	sess.transcript = append(sess.transcript, turn)
	c.events.TurnAppended(sess.id, turn)
	return turn
}

func recentTurns(transcript []Turn, window int) []Turn {
	if len(transcript) > window {
		transcript = transcript[len(transcript)-window:]
	}
	return append([]Turn(nil), transcript...)
}

func contextSummary(sess *session) string {
	symptom := string(sess.triage.Symptom)
	if sess.triage.Symptom == triage.SymptomNone {
		symptom = "None yet"
	}
	interaction := "Chat interaction"
	if sess.modality.IsVoice() {
		interaction = "Spoken interaction"
	}
	summary := fmt.Sprintf("%s. Current Phase: %s. Current Symptom: %s.", interaction, sess.triage.Phase, symptom)
	if sess.language != "" {
		summary += fmt.Sprintf(" User Language: %s.", sess.language)
	}
	return summary
}

func waitSession(sess *session, d time.Duration) bool {
	if d <= 0 {
		return sess.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-sess.ctx.Done():
		return false
	}
}
