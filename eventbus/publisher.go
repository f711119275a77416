// Package eventbus publishes consultation lifecycle events to a watermill
// topic so other processes can follow consultations.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/GramHealth/consult"
)

// Topic carries every consultation event.
const Topic = "consultations"

const (
	EventOpened             = "session.opened"
	EventConnected          = "session.connected"
	EventEnded              = "session.ended"
	EventTurnAppended       = "turn.appended"
	EventAdvisorUnavailable = "advisor.unavailable"
	EventClosed             = "session.closed"
)

// Event is the JSON body of every published message.
type Event struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	At        int64             `json:"atMs"`
	Status    consult.Status    `json:"status,omitempty"`
	Turn      *consult.Turn     `json:"turn,omitempty"`
	Notice    *consult.Notice   `json:"notice,omitempty"`
	Snapshot  *consult.Snapshot `json:"snapshot,omitempty"`
}

var ErrUnknownBackend = errors.New("unknown event backend")

// Publisher is a consult.EventSink that forwards events to a watermill
// publisher. Events are queued and published in order by one goroutine so
// the consultation lock is never held across I/O.
type Publisher struct {
	consult.NopEvents

	pub    message.Publisher
	topic  string
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan *Event
	done   chan struct{}
}

// NewPublisher wraps pub. Call Close to flush and release it.
func NewPublisher(pub message.Publisher) *Publisher {
	p := &Publisher{
		pub:    pub,
		topic:  Topic,
		logger: log.With().Str("component", "eventbus").Logger(),
		now:    time.Now,
		queue:  make(chan *Event, 256),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// NewGoChannel returns an in-process pub/sub, used for the "memory" backend
// and in tests.
func NewGoChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64, BlockPublishUntilSubscriberAck: true},
		newLoggerAdapter(log.With().Str("component", "gochannel").Logger()))
}

// NewRedisPublisher publishes to a Redis stream named after the topic.
func NewRedisPublisher(client *redis.Client) (message.Publisher, error) {
	if client == nil {
		return nil, errors.New("redis event backend needs a redis connection")
	}
	return rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, newLoggerAdapter(log.With().Str("component", "redisstream").Logger()))
}

// ForBackend builds the publisher for a configured backend name. It returns
// nil for "none".
func ForBackend(backend string, client *redis.Client) (*Publisher, error) {
	switch backend {
	case "", "none":
		return nil, nil
	case "memory":
		bus := NewGoChannel()
		if err := logEvents(bus); err != nil {
			return nil, err
		}
		return NewPublisher(bus), nil
	case "redis":
		pub, err := NewRedisPublisher(client)
		if err != nil {
			return nil, err
		}
		return NewPublisher(pub), nil
	}
	return nil, errors.Wrapf(ErrUnknownBackend, "%q", backend)
}

// logEvents writes every event on the in-process bus to the debug log. It
// stops when the bus is closed.
func logEvents(sub message.Subscriber) error {
	msgs, err := sub.Subscribe(context.Background(), Topic)
	if err != nil {
		return errors.Wrap(err, "subscribe to consultation events")
	}
	logger := log.With().Str("component", "eventbus").Logger()
	go func() {
		for msg := range msgs {
			logger.Debug().
				Str("type", msg.Metadata.Get("type")).
				Str("session_id", msg.Metadata.Get("session_id")).
				RawJSON("event", msg.Payload).
				Msg("consultation event")
			msg.Ack()
		}
	}()
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to encode event")
			continue
		}
		msg := message.NewMessage(uuid.NewString(), payload)
		msg.Metadata.Set("type", ev.Type)
		msg.Metadata.Set("session_id", ev.SessionID)
		if err := p.pub.Publish(p.topic, msg); err != nil {
			p.logger.Warn().Err(err).Str("type", ev.Type).Str("session_id", ev.SessionID).Msg("failed to publish event")
		}
	}
}

func (p *Publisher) enqueue(ev *Event) {
	ev.At = p.now().UnixMilli()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn().Str("type", ev.Type).Str("session_id", ev.SessionID).Msg("event queue full, dropping")
	}
}

func (p *Publisher) StatusChanged(sessionID string, status consult.Status) {
	ev := &Event{SessionID: sessionID, Status: status}
	switch status {
	case consult.StatusConnecting:
		ev.Type = EventOpened
	case consult.StatusConnected:
		ev.Type = EventConnected
	case consult.StatusEnded:
		ev.Type = EventEnded
	default:
		return
	}
	p.enqueue(ev)
}

func (p *Publisher) TurnAppended(sessionID string, turn consult.Turn) {
	p.enqueue(&Event{Type: EventTurnAppended, SessionID: sessionID, Turn: &turn})
}

func (p *Publisher) Notice(sessionID string, notice consult.Notice) {
	if notice.Level != "warning" {
		return
	}
	p.enqueue(&Event{Type: EventAdvisorUnavailable, SessionID: sessionID, Notice: &notice})
}

func (p *Publisher) SessionClosed(snapshot consult.Snapshot) {
	p.enqueue(&Event{Type: EventClosed, SessionID: snapshot.ID, Snapshot: &snapshot})
}

// Close drains queued events and closes the underlying publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.pub.Close()
}
