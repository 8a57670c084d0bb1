package outcomes

import "errors"

// ErrNoData is returned when no outcome points exist for a symbol in the
// queried window, distinct from a query that matched points but found no
// peak — callers
// (the correlator's churn_penalty) must not treat "never observed" the same
// as "observed, never 4x'd".
var ErrNoData = errors.New("outcomes: no data for symbol")
