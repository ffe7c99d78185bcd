// Package hub fans diagnostic messages out to WebSocket subscribers with
// one writer goroutine per client.
package hub

import "encoding/json"

// Message is one pre-encoded JSON document for subscribers.
type Message struct {
	Topic string
	Data  []byte
}

// NewJSONMessage encodes v for topic.
func NewJSONMessage(topic string, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Data: data}, nil
}
