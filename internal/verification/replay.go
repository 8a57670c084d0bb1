// Package verification implements the round-trip/idempotence checks from
// spec §8: re-parsing a message twice yields the same fragment, and
// re-running the correlator over the same event stream yields the same
// set of AlertRecord ids. Both checks replay against throwaway
// collaborators rather than the running pipeline's, so they are safe to
// run online against production input without side effects beyond the
// scratch durable-log file they're handed.
package verification

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"gemwatch/internal/correlator"
	"gemwatch/internal/dedup"
	"gemwatch/internal/domain"
	"gemwatch/internal/eventlog"
	"gemwatch/internal/outcomes"
	"gemwatch/internal/parser"
	"gemwatch/internal/tokenstate"
)

// ReplayAlertIDs threads events through a fresh tokenstate.Store,
// correlator.Correlator, and dedup.Emitter backed by a durable log at
// logPath, returning the ids of every AlertRecord that would be emitted.
// outcomesStore/history may be nil to disable churn_penalty, matching
// correlator.New's own contract.
func ReplayAlertIDs(ctx context.Context, events []domain.ParsedEvent, logPath string, outcomesStore outcomes.Store, history correlator.AlertHistory) ([]string, error) {
	log, err := eventlog.Open(logPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("verification: open replay log: %w", err)
	}

	store := tokenstate.New()
	corr := correlator.New(outcomesStore, history, nil)
	emitter := dedup.New(nil, log, nil, store, nil)

	var ids []string
	for i := range events {
		evt := events[i]
		state, ok, err := store.Upsert(ctx, &evt)
		if err != nil {
			return nil, fmt.Errorf("verification: upsert event %d: %w", i, err)
		}
		if !ok {
			continue
		}

		candidate, err := corr.Evaluate(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("verification: evaluate event %d: %w", i, err)
		}
		if candidate == nil {
			continue
		}

		rec, emitted, err := emitter.Emit(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("verification: emit event %d: %w", i, err)
		}
		if emitted {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

// CheckCorrelatorIdempotence replays events through two independent runs
// (each against its own scratch log path, firstLogPath/secondLogPath) and
// reports whether both runs produced the identical set of AlertRecord ids,
// per spec §8's "re-running the correlator on the same event stream
// produces the identical set of AlertRecord ids".
func CheckCorrelatorIdempotence(ctx context.Context, events []domain.ParsedEvent, firstLogPath, secondLogPath string, outcomesStore outcomes.Store, history correlator.AlertHistory) (bool, error) {
	first, err := ReplayAlertIDs(ctx, events, firstLogPath, outcomesStore, history)
	if err != nil {
		return false, fmt.Errorf("verification: first replay: %w", err)
	}
	second, err := ReplayAlertIDs(ctx, events, secondLogPath, outcomesStore, history)
	if err != nil {
		return false, fmt.Errorf("verification: second replay: %w", err)
	}
	return sameIDSet(first, second), nil
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA := append([]string(nil), a...)
	sortedB := append([]string(nil), b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)
	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}
	return true
}

// CheckParserIdempotence reports whether registry.Parse(msg) returns an
// identical fragment (or an identical ErrNoMatch outcome) on two
// successive calls, per spec §8's "parsing is idempotent: parse(m)
// depends only on m".
func CheckParserIdempotence(registry *parser.Registry, msg domain.RawMessage) (bool, error) {
	first, firstErr := registry.Parse(msg)
	second, secondErr := registry.Parse(msg)

	if (firstErr == nil) != (secondErr == nil) {
		return false, fmt.Errorf("verification: parse outcome differed: first err=%v second err=%v", firstErr, secondErr)
	}
	if firstErr != nil {
		return firstErr == secondErr, nil
	}
	return reflect.DeepEqual(first, second), nil
}
