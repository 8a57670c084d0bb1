package eventlog

import "errors"

// Errors returned by the durable event log. Mirrors the teacher storage
// package's sentinel style: callers branch on errors.Is rather than
// string-matching.
var (
	// ErrNotFound is returned when a lookup by id or symbol matches nothing.
	ErrNotFound = errors.New("eventlog: not found")

	// ErrDuplicateID names exhaustion of the id collision suffixes. No code
	// path returns it: assignID falls back to a _v<UnixNano> suffix once
	// _v2 through _v999 are all taken.
	ErrDuplicateID = errors.New("eventlog: exhausted id collision suffixes")
)
