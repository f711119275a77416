package session

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/room4-2/GramHealth/messages"
	"github.com/room4-2/GramHealth/voice"
)

// RemoteDevice is the client's speaker and microphone. It implements
// voice.Synthesizer and voice.Recognizer by asking the client to speak or
// listen and waiting for the matching speech/transcript message.
type RemoteDevice struct {
	send func(*messages.ServerMessage)

	mu      sync.Mutex
	locale  string
	seq     uint64
	speech  *pendingRequest
	capture *pendingRequest
}

type pendingRequest struct {
	id   uint64
	done chan deviceResult
}

type deviceResult struct {
	text string
	err  error
}

// NewRemoteDevice creates a device that writes requests with send.
func NewRemoteDevice(send func(*messages.ServerMessage)) *RemoteDevice {
	return &RemoteDevice{send: send, locale: voice.LocaleFor("")}
}

// SetLanguage selects the synthesis locale for later requests.
func (d *RemoteDevice) SetLanguage(language string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locale = voice.LocaleFor(language)
}

// Synthesize asks the client to speak text and waits for playback to end.
func (d *RemoteDevice) Synthesize(ctx context.Context, text string) error {
	req, locale := d.begin(&d.speech)
	d.send(messages.NewSpeakMessage("", req.id, text, locale))

	select {
	case res := <-req.done:
		return res.err
	case <-ctx.Done():
		d.abandon(&d.speech, req)
		d.send(messages.NewCancelSpeechMessage(""))
		return ctx.Err()
	}
}

// Recognize asks the client to capture one utterance.
func (d *RemoteDevice) Recognize(ctx context.Context) (string, error) {
	req, _ := d.begin(&d.capture)
	d.send(messages.NewListenMessage("", req.id))

	select {
	case res := <-req.done:
		return res.text, res.err
	case <-ctx.Done():
		d.abandon(&d.capture, req)
		d.send(messages.NewCancelListenMessage(""))
		return "", ctx.Err()
	}
}

// SpeechEnded completes the pending speak request. An id of zero matches
// any request. It reports whether a request was waiting.
func (d *RemoteDevice) SpeechEnded(id uint64) bool {
	return d.complete(&d.speech, id, deviceResult{})
}

// Transcript completes the pending listen request with a recognized text or
// a recognition error.
func (d *RemoteDevice) Transcript(id uint64, text, errText string) bool {
	res := deviceResult{text: text}
	if errText != "" {
		res = deviceResult{err: errors.Errorf("speech recognition: %s", strings.TrimSpace(errText))}
	}
	return d.complete(&d.capture, id, res)
}

func (d *RemoteDevice) begin(slot **pendingRequest) (*pendingRequest, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	req := &pendingRequest{id: d.seq, done: make(chan deviceResult, 1)}
	*slot = req
	return req, d.locale
}

func (d *RemoteDevice) abandon(slot **pendingRequest, req *pendingRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if *slot == req {
		*slot = nil
	}
}

func (d *RemoteDevice) complete(slot **pendingRequest, id uint64, res deviceResult) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	req := *slot
	if req == nil || (id != 0 && id != req.id) {
		return false
	}
	*slot = nil
	req.done <- res
	return true
}
