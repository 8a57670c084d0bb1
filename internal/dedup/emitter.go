// Package dedup implements the dedup/enrichment/append/fan-out pipeline
// that turns a correlator AlertCandidate into a durable, delivered alert.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
	"gemwatch/internal/fanout"
	"gemwatch/internal/observability"
)

// WindowDedupe (W_dedupe) bounds how recently a tier must have fired for
// this contract before an equal-or-weaker repeat is suppressed. A strictly
// stronger tier always emits regardless of how recently the weaker one
// fired.
const WindowDedupe = 5 * time.Minute

// EventAppender is the subset of *eventlog.Log the emitter depends on.
type EventAppender interface {
	Append(ctx context.Context, rec domain.AlertRecord) (domain.AlertRecord, error)
}

// TokenMarker is the subset of *tokenstate.Store the emitter depends on.
type TokenMarker interface {
	MarkAlerted(ctx context.Context, contract string, tier domain.Tier, at time.Time) error
}

// Emitter implements spec §4.5: dedup suppression, live-quote enrichment,
// AlertRecord construction, durable append, fan-out, and the token-state
// mark_alerted call-through, in that order. It holds no state of its own —
// every decision is made from the AlertCandidate and the collaborators it
// is handed — so it is safe to call only from the correlator's single
// linearizer task, same as the Correlator itself.
type Emitter struct {
	quotes  QuoteService
	log     EventAppender
	fanout  fanout.Adapter
	tokens  TokenMarker
	clock   func() time.Time
	logger  logrus.FieldLogger
}

// New builds an Emitter. quotes may be nil to disable enrichment entirely
// (the candidate's parsed market cap is then used as-is, with no stale_mc
// fallback tag since there was never a live snapshot to fall back from).
func New(quotes QuoteService, log EventAppender, fanoutAdapter fanout.Adapter, tokens TokenMarker, logger logrus.FieldLogger) *Emitter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Emitter{
		quotes: quotes,
		log:    log,
		fanout: fanoutAdapter,
		tokens: tokens,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Emit runs the candidate through dedup suppression, enrichment, durable
// append, and fan-out. It returns (nil, false, nil) when the candidate was
// suppressed by dedup — not an error, just "already alerted recently at an
// equal or stronger tier".
func (e *Emitter) Emit(ctx context.Context, candidate *domain.AlertCandidate) (*domain.AlertRecord, bool, error) {
	state := &candidate.State

	if e.suppressedByDedup(state, candidate.Tier) {
		observability.RecordDedupSuppressed()
		return nil, false, nil
	}

	now := e.clock()
	rec := e.buildRecord(ctx, candidate, now)

	appended, err := e.log.Append(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("dedup: append alert record: %w", err)
	}
	observability.RecordAlertEmitted(appended.Tier.String())

	if e.fanout != nil {
		e.fanout.Deliver(ctx, appended)
	}

	if e.tokens != nil {
		if err := e.tokens.MarkAlerted(ctx, state.ContractAddress, candidate.Tier, now); err != nil {
			e.logger.WithError(err).WithField("contract", state.ContractAddress).Warn("dedup: mark_alerted failed after successful append")
		}
	}

	return &appended, true, nil
}

// suppressedByDedup implements spec §4.5 step 1: suppress unless the
// candidate's tier strictly outranks the tier most recently alerted for
// this contract within WindowDedupe.
func (e *Emitter) suppressedByDedup(state *domain.TokenState, tier domain.Tier) bool {
	if state.AlertedTier == domain.TierNone {
		return false
	}
	if e.clock().Sub(state.AlertedAt) > WindowDedupe {
		return false
	}
	return !tier.Stronger(state.AlertedTier)
}

// buildRecord enriches the candidate with a live quote — filling in
// entry_mc_usd only when the candidate has no parsed market cap of its own
// (spec §4.5 step 2) — falling back to the parsed market cap plus a
// stale_mc tag on enrichment failure, and assembles the AlertRecord.
func (e *Emitter) buildRecord(ctx context.Context, candidate *domain.AlertCandidate, now time.Time) domain.AlertRecord {
	state := &candidate.State
	tags := state.TagsUnion.Clone()

	entryMC := state.LatestMarketCapUSD
	if e.quotes != nil {
		started := time.Now()
		qctx, cancel := context.WithTimeout(ctx, QuoteTimeout)
		snap, err := e.quotes.GetSnapshot(qctx, state.ContractAddress)
		cancel()
		if err == nil && snap != nil {
			observability.RecordEnrichment(time.Since(started).Seconds(), nil)
			if entryMC == nil {
				v := snap.MarketCapUSD
				entryMC = &v
			}
		} else {
			if err != nil {
				e.logger.WithError(err).WithField("contract", state.ContractAddress).Debug("dedup: enrichment failed, falling back to parsed market cap")
			}
			tags.Add(domain.TagStaleMC)
			observability.RecordEnrichment(time.Since(started).Seconds(), fmt.Errorf("enrichment unavailable"))
		}
	}

	hotlist := "No"
	if tags.Has(domain.TagTop5Hotlist) {
		hotlist = "Yes"
	}

	rec := domain.AlertRecord{
		Token:             state.Symbol,
		Tier:              candidate.Tier,
		Level:             candidate.Tier.Level(),
		Timestamp:         now,
		Contract:          state.ContractAddress,
		EntryMarketCapUSD: entryMC,
		Hotlist:           hotlist,
		Description:       describeCandidate(candidate),
		MatchedSignals:    matchedSignalTags(tags.Ordered()),
		Tags:              signalTagStrings(tags.Ordered()),
		LiquidityUSD:      state.LatestLiquidityUSD,
		Callers:           state.LatestCallers,
		Subs:              state.LatestSubs,
		ConfirmationCount: tags.CountStrongConfirmations(),
		CohortTime:        formatCohortTime(state.CohortStartAt, now),
	}
	return rec
}

func signalTagStrings(tags []domain.SignalTag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

// matchedSignalTags renders the ordered signal tags that evidenced the
// alert, per spec §3/§6's matched_signals format — tag names like
// "whale_buy" and "top5_hotlist", not the correlator's internal rule ids.
// cohort_start and stale_mc are bookkeeping tags, never themselves evidence
// for a tier, so they are excluded.
func matchedSignalTags(tags []domain.SignalTag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == domain.TagCohortStart || t == domain.TagStaleMC {
			continue
		}
		out = append(out, string(t))
	}
	return out
}

// describeCandidate renders a short human-readable sentence from the
// candidate's description theme, the way an analyst would summarize why
// the alert fired.
func describeCandidate(candidate *domain.AlertCandidate) string {
	symbol := candidate.State.Symbol
	switch candidate.DescriptionTheme {
	case "hotlist":
		return fmt.Sprintf("%s surfaced on the hotlist alongside a confirmed momentum cohort.", symbol)
	case "momentum":
		return fmt.Sprintf("%s is showing a momentum spike with independent confirmation.", symbol)
	case "smart_money":
		return fmt.Sprintf("%s drew a large or whale-sized buy early in its cohort.", symbol)
	default:
		return fmt.Sprintf("%s is trending early with multiple independent signals.", symbol)
	}
}

// formatCohortTime renders a relative-age string ("3m ago", "2h ago")
// anchored on cohortStart, reconstructable from the record's timestamp —
// so it is persisted as a string, not recomputed live, per spec §4.2.
func formatCohortTime(cohortStart, now time.Time) string {
	if cohortStart.IsZero() {
		return ""
	}
	d := now.Sub(cohortStart)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	default:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}
}
