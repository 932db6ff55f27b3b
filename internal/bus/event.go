package bus

import "time"

// Event is a notification published on the bus. Subject names the
// conversation it concerns (its cache key); it is empty for daemon-wide events.
type Event struct {
	Kind      string
	Subject   string
	Timestamp time.Time
	Payload   any
}
