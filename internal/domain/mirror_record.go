package domain

import (
	"encoding/json"
	"time"
)

// MirrorRecord is the unit pushed to the Remote Mirror: a single
// AlertRecord addressed by its id, plus the time it was pushed.
type MirrorRecord struct {
	ID       string
	Payload  json.RawMessage
	PushedAt time.Time
}
