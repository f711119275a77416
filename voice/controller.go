// Package voice serializes speech playback and speech capture for a
// consultation running in audio or video modality.
package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Speak and Listen after Close.
var ErrClosed = errors.New("voice controller closed")

// Mode is the turn-taking state of the controller.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeListening  Mode = "listening"
	ModeProcessing Mode = "processing"
	ModeSpeaking   Mode = "speaking"
)

// Synthesizer plays text to the user. Synthesize returns once playback has
// finished; cancelling ctx must stop playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) error
}

// Recognizer captures one utterance. Cancelling ctx must stop capture.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// TurnHandler turns a captured utterance into the reply to speak next.
type TurnHandler func(ctx context.Context, utterance string) (string, error)

// EventSink receives mode and subtitle updates. It is called with the
// controller lock held and must not call back into the controller.
type EventSink interface {
	ModeChanged(mode Mode)
	Subtitle(text string)
}

// Config holds the timings used when a speech capability is missing.
type Config struct {
	SimulatedSpeech    time.Duration
	SimulatedListen    time.Duration
	SimulatedUtterance string
	ListenRetryDelay   time.Duration
}

// DefaultConfig mirrors the timings of the browser client.
func DefaultConfig() Config {
	return Config{
		SimulatedSpeech:    3 * time.Second,
		SimulatedListen:    4 * time.Second,
		SimulatedUtterance: "I have a fever",
		ListenRetryDelay:   500 * time.Millisecond,
	}
}

const (
	subtitleListening = "Listening..."
	subtitleRetry     = "Listening... (Speak louder)"
)

// Controller owns the speech device for one session. At most one of playback
// or capture runs at any time: every Speak or Listen stops the running turn
// loop and waits for it to exit before starting a new one.
type Controller struct {
	synth   Synthesizer
	rec     Recognizer
	handler TurnHandler
	events  EventSink
	cfg     Config
	logger  zerolog.Logger

	mu     sync.Mutex
	mode   Mode
	runID  uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewController creates a controller. synth and rec may be nil when the
// client has no such capability.
func NewController(synth Synthesizer, rec Recognizer, handler TurnHandler, events EventSink, cfg Config) *Controller {
	if cfg.SimulatedUtterance == "" {
		cfg.SimulatedUtterance = DefaultConfig().SimulatedUtterance
	}
	return &Controller{
		synth:   synth,
		rec:     rec,
		handler: handler,
		events:  events,
		cfg:     cfg,
		logger:  log.With().Str("component", "voice").Logger(),
		mode:    ModeIdle,
	}
}

// WithLogger replaces the controller's logger.
func (c *Controller) WithLogger(logger zerolog.Logger) *Controller {
	c.logger = logger
	return c
}

// Speak cancels any playback or capture in flight, speaks text and then
// listens for the next utterance.
func (c *Controller) Speak(text string) error {
	return c.restart(text, true)
}

// Listen cancels any playback or capture in flight and opens the microphone.
func (c *Controller) Listen() error {
	return c.restart("", false)
}

// Stop cancels the running turn loop and waits for it to exit. The controller
// can be restarted with Speak or Listen.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	cancel, done := c.detachLocked()
	c.setModeLocked(ModeIdle)
	c.mu.Unlock()

	waitStopped(cancel, done)
}

// Close stops the controller for good. No event is emitted once Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel, done := c.detachLocked()
	c.mode = ModeIdle
	c.mu.Unlock()

	waitStopped(cancel, done)
}

// Mode returns the current turn-taking mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) restart(text string, speakFirst bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prevCancel, prevDone := c.detachLocked()
	id := c.runID
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	// the previous capture or playback has fully stopped before anything new starts
	waitStopped(prevCancel, prevDone)

	go c.run(ctx, id, done, text, speakFirst)
	return nil
}

// detachLocked invalidates the running loop and hands back what is needed to
// stop it outside the lock.
func (c *Controller) detachLocked() (context.CancelFunc, chan struct{}) {
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runID++
	return cancel, done
}

func waitStopped(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) run(ctx context.Context, id uint64, done chan struct{}, text string, speakFirst bool) {
	defer close(done)

	if speakFirst && !c.speakOnce(ctx, id, text) {
		return
	}

	for {
		utterance, ok := c.listenOnce(ctx, id)
		if !ok {
			return
		}
		if !c.transition(id, ModeProcessing, "") {
			return
		}

		reply, err := c.handler(ctx, utterance)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("turn handler failed, stopping voice loop")
				c.transition(id, ModeIdle, "")
			}
			return
		}

		if !c.speakOnce(ctx, id, reply) {
			return
		}
	}
}

func (c *Controller) speakOnce(ctx context.Context, id uint64, text string) bool {
	if !c.transition(id, ModeSpeaking, text) {
		return false
	}

	if c.synth == nil {
		return sleep(ctx, c.cfg.SimulatedSpeech)
	}

	if err := c.synth.Synthesize(ctx, text); err != nil && ctx.Err() == nil {
		// playback failures still hand the turn to the user
		c.logger.Warn().Err(err).Msg("speech synthesis failed")
	}
	return ctx.Err() == nil
}

func (c *Controller) listenOnce(ctx context.Context, id uint64) (string, bool) {
	for {
		if !c.transition(id, ModeListening, subtitleListening) {
			return "", false
		}

		if c.rec == nil {
			if !sleep(ctx, c.cfg.SimulatedListen) {
				return "", false
			}
			utterance := c.cfg.SimulatedUtterance
			if !c.subtitle(id, fmt.Sprintf("(Simulated): %q", utterance)) {
				return "", false
			}
			return utterance, true
		}

		utterance, err := c.rec.Recognize(ctx)
		if ctx.Err() != nil {
			return "", false
		}
		if err == nil && strings.TrimSpace(utterance) != "" {
			if !c.subtitle(id, fmt.Sprintf("You said: %q", utterance)) {
				return "", false
			}
			return utterance, true
		}

		if err != nil {
			c.logger.Debug().Err(err).Msg("speech recognition failed, listening again")
		}
		if !c.subtitle(id, subtitleRetry) || !sleep(ctx, c.cfg.ListenRetryDelay) {
			return "", false
		}
	}
}

// transition moves to mode and optionally shows a subtitle, unless the run
// has been superseded or the controller closed.
func (c *Controller) transition(id uint64, mode Mode, subtitle string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || id != c.runID {
		return false
	}
	c.setModeLocked(mode)
	if subtitle != "" && c.events != nil {
		c.events.Subtitle(subtitle)
	}
	return true
}

func (c *Controller) subtitle(id uint64, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || id != c.runID {
		return false
	}
	if c.events != nil {
		c.events.Subtitle(text)
	}
	return true
}

func (c *Controller) setModeLocked(mode Mode) {
	if c.mode == mode {
		return
	}
	c.mode = mode
	if c.events != nil {
		c.events.ModeChanged(mode)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
