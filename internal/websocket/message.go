package websocket

import "encoding/json"

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Topic   string      `json:"topic,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewErrorMessage builds a serialized error message for a client.
func NewErrorMessage(msg string) []byte {
	b, _ := json.Marshal(Message{Action: "error", Payload: msg})
	return b
}
