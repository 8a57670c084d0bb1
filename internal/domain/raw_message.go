package domain

import "time"

// Entity is a URL reference carried by a chat message, with the anchor
// text a human would have seen (which often embeds a symbol or mint).
type Entity struct {
	URL        string
	AnchorText string
}

// RawMessage is one inbound chat message, before parsing. ReceivedAt is the
// local ingest clock reading, the moment gemwatch itself accepted the
// message. SourceWallClock is the wall-clock time the source reported for
// the message, which may lag behind ReceivedAt — the gap is what the
// ingest latency budget (spec §8 invariant 6) bounds. It is the zero
// Time when a source reports no timestamp of its own.
type RawMessage struct {
	SourceID        string
	ReceivedAt      time.Time
	SourceWallClock time.Time
	Text            string
	Entities        []Entity
	ThreadID        string // optional, empty when the source has no threading
}
