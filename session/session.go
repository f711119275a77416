package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/room4-2/GramHealth/consult"
	"github.com/room4-2/GramHealth/messages"
	"github.com/room4-2/GramHealth/voice"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	textQueueSize   = 8
	maxMessageSize  = 64 * 1024

	textsPerSecond = 2
	textBurst      = 5
)

// ClientSession represents a single user's connection. It owns one
// consultation controller and relays its events to the client.
type ClientSession struct {
	ID           string
	ClientConn   *websocket.Conn
	Consult      *consult.Controller
	Device       *RemoteDevice
	CreatedAt    time.Time
	LastActivity time.Time

	keepAlive time.Duration
	limiter   *rate.Limiter
	logger    zerolog.Logger

	// Use channels for non-blocking writes
	writeChan chan any
	texts     chan string

	mu        sync.RWMutex
	closed    bool
	consultID string
	modality  consult.Modality
	closeOnce sync.Once
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// Options configures a ClientSession.
type Options struct {
	Advisor   consult.Advisor
	Consult   consult.Config
	Sinks     []consult.EventSink
	KeepAlive time.Duration
}

// NewClientSession creates a session around an upgraded connection.
func NewClientSession(id string, clientConn *websocket.Conn, opts Options) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(maxMessageSize)

	cs := &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		keepAlive:    opts.KeepAlive,
		limiter:      rate.NewLimiter(rate.Limit(textsPerSecond), textBurst),
		logger:       log.With().Str("component", "session").Str("client_id", id).Logger(),
		writeChan:    make(chan any, writeBufferSize),
		texts:        make(chan string, textQueueSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	cs.Device = NewRemoteDevice(cs.send)

	sinks := append(consult.MultiSink{cs}, opts.Sinks...)
	cs.Consult = consult.NewController(opts.Advisor, consult.SpeechDevice{}, sinks, opts.Consult).
		WithLogger(cs.logger.With().Str("component", "consult").Logger())
	return cs
}

// Start begins the bidirectional message handling
func (cs *ClientSession) Start() {
	go cs.writePump()
	go cs.textWorker()
	go cs.handleClientMessages()
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	var ping <-chan time.Time
	if cs.keepAlive > 0 {
		ticker := time.NewTicker(cs.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-cs.CloseChan:
			return
		case <-ping:
			cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-cs.writeChan:
			if !ok {
				return
			}

			data, err := messages.Encode(msg)
			if err != nil {
				cs.logger.Error().Err(err).Msg("failed to encode message")
				continue
			}
			cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.TextMessage, data); err != nil {
				cs.logger.Debug().Err(err).Msg("write failed")
				return
			}
		}
	}
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg any) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- msg:
	default:
		cs.logger.Warn().Msg("write queue full, dropping message")
	}
}

// send stamps the current consultation id on msg and queues it.
func (cs *ClientSession) send(msg *messages.ServerMessage) {
	if msg.SessionID == "" {
		msg.SessionID = cs.ConsultationID()
	}
	cs.queueMessage(msg)
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.LastActivity = time.Now()
	cs.mu.Unlock()
}

// Idle returns how long the client has been silent.
func (cs *ClientSession) Idle(now time.Time) time.Duration {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return now.Sub(cs.LastActivity)
}

// ConsultationID returns the id of the consultation in progress, if any.
func (cs *ClientSession) ConsultationID() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.consultID
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.closeOnce.Do(func() {
		cs.cancel()

		// final consultation events still reach the client if the pump is alive
		cs.Consult.Dispose()

		cs.mu.Lock()
		cs.closed = true
		close(cs.writeChan)
		close(cs.CloseChan)
		cs.mu.Unlock()

		if cs.ClientConn != nil {
			cs.ClientConn.Close()
		}
	})
	return nil
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	if cs.keepAlive > 0 {
		deadline := 2 * cs.keepAlive
		cs.ClientConn.SetReadDeadline(time.Now().Add(deadline))
		cs.ClientConn.SetPongHandler(func(string) error {
			cs.touch()
			return cs.ClientConn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	for {
		messageType, message, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		cs.touch()
		if cs.keepAlive > 0 {
			cs.ClientConn.SetReadDeadline(time.Now().Add(2 * cs.keepAlive))
		}

		if messageType == websocket.BinaryMessage {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Binary messages are not supported"))
			continue
		}

		clientMsg, err := messages.Parse(message)
		if err != nil {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}

		cs.processClientMessage(clientMsg)
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeOpen:
		var payload messages.OpenPayload
		if err := msg.Decode(&payload); err != nil {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid open payload"))
			return
		}
		cs.handleOpen(&payload)

	case messages.TypeText:
		var payload messages.TextPayload
		if err := msg.Decode(&payload); err != nil {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid text payload"))
			return
		}
		cs.enqueueText(payload.Text)

	case messages.TypeSpeech:
		var payload messages.SpeechPayload
		if err := msg.Decode(&payload); err != nil {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid speech payload"))
			return
		}
		if payload.Event == "end" && !cs.Device.SpeechEnded(payload.ID) {
			cs.logger.Debug().Uint64("id", payload.ID).Msg("ignoring stale speech end")
		}

	case messages.TypeTranscript:
		var payload messages.TranscriptPayload
		if err := msg.Decode(&payload); err != nil {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid transcript payload"))
			return
		}
		if !cs.Device.Transcript(payload.ID, payload.Text, payload.Error) {
			cs.logger.Debug().Uint64("id", payload.ID).Msg("ignoring transcript with no listen pending")
		}

	case messages.TypeControl:
		var payload messages.ControlPayload
		if err := msg.Decode(&payload); err != nil {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		cs.handleControlMessage(&payload)

	default:
		cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (cs *ClientSession) handleOpen(payload *messages.OpenPayload) {
	speech := consult.SpeechDevice{}
	if payload.CanSpeak {
		speech.Synthesizer = cs.Device
	}
	if payload.CanListen {
		speech.Recognizer = cs.Device
	}
	cs.Device.SetLanguage(payload.Language)
	cs.Consult.SetSpeech(speech)
	cs.Consult.SetLanguage(payload.Language)

	modality := consult.Modality(payload.Modality)
	if modality.Valid() {
		cs.mu.Lock()
		cs.modality = modality
		cs.mu.Unlock()
	}
	if _, err := cs.Consult.Open(cs.ctx, modality); err != nil {
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, consult.ErrInvalidModality) {
			code = messages.ErrCodeInvalidMessage
		}
		cs.send(messages.NewErrorMessage("", code, err.Error()))
	}
}

// Modality returns the modality of the latest consultation.
func (cs *ClientSession) Modality() consult.Modality {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.modality
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case "ping":
		cs.send(messages.NewStatusMessage("", messages.StatusPong, ""))
	case "end":
		if err := cs.Consult.Close(); err != nil {
			cs.send(messages.NewErrorMessage("", messages.ErrCodeNotConnected, err.Error()))
		}
	default:
		cs.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

// enqueueText hands typed input to the text worker so the read loop keeps
// serving speech and control messages while an answer is produced.
func (cs *ClientSession) enqueueText(text string) {
	if !cs.limiter.Allow() {
		cs.send(messages.NewErrorMessage("", messages.ErrCodeRateLimited, "Too many messages, slow down"))
		return
	}
	select {
	case cs.texts <- text:
	default:
		cs.send(messages.NewErrorMessage("", messages.ErrCodeRateLimited, "Too many pending messages"))
	}
}

func (cs *ClientSession) textWorker() {
	for {
		select {
		case <-cs.CloseChan:
			return
		case text := <-cs.texts:
			_, err := cs.Consult.SendUserText(cs.ctx, text)
			if err == nil || cs.ctx.Err() != nil {
				continue
			}
			switch {
			case errors.Is(err, consult.ErrNoActiveSession),
				errors.Is(err, consult.ErrNotConnected),
				errors.Is(err, consult.ErrSessionClosed):
				cs.send(messages.NewErrorMessage("", messages.ErrCodeNotConnected, err.Error()))
			default:
				cs.logger.Error().Err(err).Msg("failed to handle text")
				cs.send(messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error()))
			}
		}
	}
}

// StatusChanged implements consult.EventSink.
func (cs *ClientSession) StatusChanged(sessionID string, status consult.Status) {
	cs.mu.Lock()
	cs.consultID = sessionID
	cs.mu.Unlock()
	cs.send(messages.NewStatusMessage(sessionID, string(status), ""))
}

// TurnAppended implements consult.EventSink.
func (cs *ClientSession) TurnAppended(sessionID string, turn consult.Turn) {
	cs.send(messages.NewTurnMessage(sessionID, string(turn.Speaker), turn.Text, turn.Timestamp, string(turn.Source), string(turn.ResponseKey)))
}

// Thinking implements consult.EventSink.
func (cs *ClientSession) Thinking(sessionID string, thinking bool) {
	status := messages.StatusIdle
	if thinking {
		status = messages.StatusThinking
	}
	cs.send(messages.NewStatusMessage(sessionID, status, ""))
}

// Notice implements consult.EventSink.
func (cs *ClientSession) Notice(sessionID string, notice consult.Notice) {
	cs.send(messages.NewNoticeMessage(sessionID, notice.Level, notice.Message))
}

// VoiceModeChanged implements consult.EventSink.
func (cs *ClientSession) VoiceModeChanged(sessionID string, mode voice.Mode) {
	cs.send(messages.NewModeMessage(sessionID, string(mode)))
}

// Subtitle implements consult.EventSink.
func (cs *ClientSession) Subtitle(sessionID string, text string) {
	cs.send(messages.NewSubtitleMessage(sessionID, text))
}

// SessionClosed implements consult.EventSink.
func (cs *ClientSession) SessionClosed(snapshot consult.Snapshot) {
	cs.logger.Info().
		Str("session_id", snapshot.ID).
		Int("turns", len(snapshot.Transcript)).
		Str("phase", string(snapshot.Triage.Phase)).
		Msg("consultation discarded")
}
