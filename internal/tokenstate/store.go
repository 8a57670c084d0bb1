package tokenstate

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"gemwatch/internal/domain"
)

// ErrInvalidInput mirrors the teacher storage package's validation error,
// returned for nil or empty-address events.
var ErrInvalidInput = errors.New("tokenstate: invalid input")

const (
	// MaxTrackedContracts bounds the store before LRU eviction kicks in.
	MaxTrackedContracts = 10_000
	// RingCap bounds the per-contract event ring independent of time.
	RingCap = 256
	// StateWindow (W_state) is the rolling horizon of events kept per token,
	// the LRU idle threshold, and the orphan-hotlist staleness bound.
	StateWindow = 30 * time.Minute
)

type entry struct {
	state domain.TokenState
	elem  *list.Element
}

type orphanHotlist struct {
	symbol     string
	observedAt time.Time
}

// Store is the single-writer token-state aggregate keyed by canonical
// contract address. Only the correlator's single linearizer task is
// expected to call Upsert/MarkAlerted; the mutex exists for safety, not to
// support concurrent writers.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently touched contract address

	orphans map[string][]orphanHotlist // symbol -> pending sentinel sightings
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		lru:     list.New(),
		orphans: make(map[string][]orphanHotlist),
	}
}

// Upsert applies evt to the store. For a hotlist-sentinel event it performs
// reconciliation against any matching real-contract entry (or parks it as
// an orphan) and returns (nil, false, nil); the real-contract entries it
// merged top5_hotlist onto are not reported to the caller. For a
// real-contract event it returns the refreshed snapshot.
func (s *Store) Upsert(ctx context.Context, evt *domain.ParsedEvent) (*domain.TokenState, bool, error) {
	if evt == nil || evt.ContractAddress == "" {
		return nil, false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.IsHotlistSentinel() {
		s.reconcileHotlistSentinel(evt)
		return nil, false, nil
	}

	e, existed := s.entries[evt.ContractAddress]
	if !existed {
		e = &entry{state: domain.TokenState{
			ContractAddress: evt.ContractAddress,
			Symbol:          evt.Symbol,
			FirstSeenAt:     evt.ObservedAt,
			SourcesSeen:     make(map[string]bool),
			SourceKinds:     make(map[domain.SourceKind]bool),
			TagsUnion:       domain.NewTagSet(),
		}}
		s.entries[evt.ContractAddress] = e
	}

	st := &e.state
	if st.Symbol == "" {
		st.Symbol = evt.Symbol
	}
	st.Events = append(st.Events, *evt)
	trimRing(st, evt.ObservedAt)

	if evt.ObservedAt.After(st.LastUpdatedAt) {
		st.LastUpdatedAt = evt.ObservedAt
	}
	st.SourcesSeen[evt.SourceID] = true
	st.SourceKinds[evt.SourceKind] = true
	if evt.Tags != nil {
		for _, t := range evt.Tags.Ordered() {
			st.TagsUnion.Add(t)
			if t == domain.TagCohortStart && st.CohortStartAt.IsZero() {
				st.CohortStartAt = evt.ObservedAt
			}
		}
	}

	rederiveMetrics(st)

	if existed {
		s.lru.MoveToFront(e.elem)
	} else {
		e.elem = s.lru.PushFront(evt.ContractAddress)
	}

	s.consumeOrphans(st)
	s.evictIfNeeded(evt.ObservedAt)

	snap := cloneState(st)
	return &snap, true, nil
}

// reconcileHotlistSentinel merges top5_hotlist onto every currently-tracked
// real-contract entry matching symbol — a tracked entry's mere presence
// already bounds its recency via LRU+W_state eviction, so no additional
// time gate applies here. The window the correlator actually cares about
// (±20 min of cohort start, not of first_seen_at) is evaluated later by
// the correlator itself against the recorded HotlistObservedAt. A sentinel
// matching no tracked contract is parked as an orphan awaiting one.
func (s *Store) reconcileHotlistSentinel(evt *domain.ParsedEvent) {
	symbol := evt.HotlistSymbol()
	matched := false
	for _, e := range s.entries {
		if e.state.Symbol != symbol {
			continue
		}
		e.state.TagsUnion.Add(domain.TagTop5Hotlist)
		e.state.HotlistObservedAt = evt.ObservedAt
		s.lru.MoveToFront(e.elem)
		matched = true
	}
	if matched {
		return
	}
	s.pruneOrphans(symbol, evt.ObservedAt)
	s.orphans[symbol] = append(s.orphans[symbol], orphanHotlist{symbol: symbol, observedAt: evt.ObservedAt})
}

// consumeOrphans checks pending orphan hotlist sightings for st's symbol
// and merges any still within StateWindow of st.FirstSeenAt, removing them
// from the orphan pool once merged.
func (s *Store) consumeOrphans(st *domain.TokenState) {
	pending := s.orphans[st.Symbol]
	if len(pending) == 0 {
		return
	}
	remaining := pending[:0]
	for _, o := range pending {
		if withinWindow(st.FirstSeenAt, o.observedAt, StateWindow) {
			st.TagsUnion.Add(domain.TagTop5Hotlist)
			if o.observedAt.After(st.HotlistObservedAt) {
				st.HotlistObservedAt = o.observedAt
			}
			continue
		}
		remaining = append(remaining, o)
	}
	if len(remaining) == 0 {
		delete(s.orphans, st.Symbol)
	} else {
		s.orphans[st.Symbol] = remaining
	}
}

// pruneOrphans drops orphan sightings for symbol older than StateWindow
// relative to now.
func (s *Store) pruneOrphans(symbol string, now time.Time) {
	pending := s.orphans[symbol]
	if len(pending) == 0 {
		return
	}
	kept := pending[:0]
	for _, o := range pending {
		if now.Sub(o.observedAt) < StateWindow {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		delete(s.orphans, symbol)
	} else {
		s.orphans[symbol] = kept
	}
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// trimRing drops events older than now - StateWindow and caps the ring at
// RingCap, oldest first.
func trimRing(st *domain.TokenState, now time.Time) {
	cutoff := now.Add(-StateWindow)
	kept := st.Events[:0]
	for _, e := range st.Events {
		if !e.ObservedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) > RingCap {
		kept = kept[len(kept)-RingCap:]
	}
	st.Events = kept
}

// rederiveMetrics recomputes TotalBuySOL, DistinctBuySources,
// FirstToSecondBuyGap, TimeSpread, and the latest-known MC/liquidity from
// the current event ring.
func rederiveMetrics(st *domain.TokenState) {
	var total float64
	buySources := make(map[string]bool)
	var buyTimes []time.Time
	var latestMC, latestLiq *float64
	var latestCallers, latestSubs *int
	var latestMCAt, latestLiqAt, latestSocialAt time.Time

	for _, e := range st.Events {
		if e.SourceKind.IsBuyKind() {
			buySources[e.SourceID] = true
			if e.BuySOL != nil {
				total += *e.BuySOL
				buyTimes = append(buyTimes, e.ObservedAt)
			}
		}
		if e.MarketCapUSD != nil && !e.ObservedAt.Before(latestMCAt) {
			v := *e.MarketCapUSD
			latestMC = &v
			latestMCAt = e.ObservedAt
		}
		if e.LiquidityUSD != nil && !e.ObservedAt.Before(latestLiqAt) {
			v := *e.LiquidityUSD
			latestLiq = &v
			latestLiqAt = e.ObservedAt
		}
		if e.Callers != nil && e.Subs != nil && !e.ObservedAt.Before(latestSocialAt) {
			c, sub := *e.Callers, *e.Subs
			latestCallers = &c
			latestSubs = &sub
			latestSocialAt = e.ObservedAt
		}
	}

	st.TotalBuySOL = total
	st.DistinctBuySources = len(buySources)
	st.LatestMarketCapUSD = latestMC
	st.LatestLiquidityUSD = latestLiq
	st.LatestCallers = latestCallers
	st.LatestSubs = latestSubs

	if len(buyTimes) >= 2 {
		st.FirstToSecondBuyGap = buyTimes[1].Sub(buyTimes[0])
	} else {
		st.FirstToSecondBuyGap = 0
	}

	if len(st.Events) > 0 {
		first := st.Events[0].ObservedAt
		last := st.Events[len(st.Events)-1].ObservedAt
		st.TimeSpread = last.Sub(first)
	}
}

// evictIfNeeded removes least-recently-touched entries once the store
// exceeds MaxTrackedContracts, but only those idle for at least
// StateWindow relative to now — a busy store beyond the cap still keeps
// every actively-updating contract.
func (s *Store) evictIfNeeded(now time.Time) {
	for len(s.entries) > MaxTrackedContracts {
		back := s.lru.Back()
		if back == nil {
			return
		}
		addr := back.Value.(string)
		e, ok := s.entries[addr]
		if !ok {
			s.lru.Remove(back)
			continue
		}
		if now.Sub(e.state.LastUpdatedAt) < StateWindow {
			return
		}
		s.lru.Remove(back)
		delete(s.entries, addr)
	}
}

// Snapshot returns an immutable copy of the tracked state for contract, or
// false if the contract is not tracked.
func (s *Store) Snapshot(ctx context.Context, contract string) (*domain.TokenState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[contract]
	if !ok {
		return nil, false
	}
	snap := cloneState(&e.state)
	return &snap, true
}

// MarkAlerted records that tier has fired for contract at the given time,
// ratcheting AlertedTier to the stronger of the existing and new value per
// the {1 > 2 > 3} ranking. at is the caller-supplied alert timestamp so the
// store itself never reads the wall clock, keeping Upsert/MarkAlerted
// deterministic under test.
func (s *Store) MarkAlerted(ctx context.Context, contract string, tier domain.Tier, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[contract]
	if !ok {
		return ErrInvalidInput
	}
	e.state.AlertedTier = domain.Max(e.state.AlertedTier, tier)
	e.state.AlertedAt = at
	return nil
}

// Len reports the number of tracked contracts, for tests and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvictIdle actively sweeps every tracked contract idle for at least
// StateWindow relative to now, independent of MaxTrackedContracts. Unlike
// evictIfNeeded (which only trims once the cap is exceeded), this is the
// periodic state-eviction job's entry point (spec §5 expansion) — it keeps
// memory bounded even when the store never reaches the cap. Returns the
// number of contracts removed.
func (s *Store) EvictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		addr := elem.Value.(string)
		e, ok := s.entries[addr]
		if !ok {
			s.lru.Remove(elem)
			elem = prev
			continue
		}
		if now.Sub(e.state.LastUpdatedAt) >= StateWindow {
			s.lru.Remove(elem)
			delete(s.entries, addr)
			removed++
		}
		elem = prev
	}
	return removed
}

func cloneState(st *domain.TokenState) domain.TokenState {
	out := *st
	out.Events = append([]domain.ParsedEvent(nil), st.Events...)

	out.SourcesSeen = make(map[string]bool, len(st.SourcesSeen))
	for k, v := range st.SourcesSeen {
		out.SourcesSeen[k] = v
	}
	out.SourceKinds = make(map[domain.SourceKind]bool, len(st.SourceKinds))
	for k, v := range st.SourceKinds {
		out.SourceKinds[k] = v
	}
	if st.TagsUnion != nil {
		out.TagsUnion = st.TagsUnion.Clone()
	}
	if st.LatestMarketCapUSD != nil {
		v := *st.LatestMarketCapUSD
		out.LatestMarketCapUSD = &v
	}
	if st.LatestLiquidityUSD != nil {
		v := *st.LatestLiquidityUSD
		out.LatestLiquidityUSD = &v
	}
	if st.LatestCallers != nil {
		v := *st.LatestCallers
		out.LatestCallers = &v
	}
	if st.LatestSubs != nil {
		v := *st.LatestSubs
		out.LatestSubs = &v
	}
	return out
}
