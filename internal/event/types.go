package event

import "time"

// Event is implemented by payloads that carry a type tag. The bus uses the
// tag for typed subscriptions and drop accounting.
type Event interface {
	Type() string
	Timestamp() time.Time
}
