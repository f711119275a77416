package messages

import (
	"github.com/bytedance/sonic"
)

// codec is wire-compatible with encoding/json.
var codec = sonic.ConfigStd

// Parse decodes one client frame.
func Parse(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := codec.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Encode renders a server message for the wire.
func Encode(msg any) ([]byte, error) {
	return codec.Marshal(msg)
}
