package notify

import "time"

const (
	MessageTypeConnected  = "connected"
	MessageTypeFullReload = "full-reload"
)

// Message is the JSON frame sent to reload clients.
type Message struct {
	EventType  string    `json:"type"`
	OccurredAt time.Time `json:"timestamp"`
}

func NewFullReload() Message {
	return Message{
		EventType:  MessageTypeFullReload,
		OccurredAt: time.Now().UTC(),
	}
}

func (m Message) Type() string {
	return m.EventType
}

func (m Message) Timestamp() time.Time {
	return m.OccurredAt
}
