package verification

import (
	"fmt"
	"regexp"

	"gemwatch/internal/dedup"
	"gemwatch/internal/domain"
)

// recordIDPattern matches the durable log's assigned id shape:
// shortContract_YYYY-MM-DD, optionally suffixed _vN on same-day collision.
var recordIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{1,8}_[0-9]{4}-[0-9]{2}-[0-9]{2}(_v[0-9]+)?$`)

// CheckRecordIDFormat enforces invariant 3: every AlertRecord id matches
// the deterministic shortContract_UTCDATE[_vN] shape assigned by the
// durable log, never a random or externally supplied value.
func CheckRecordIDFormat(rec domain.AlertRecord) error {
	if !recordIDPattern.MatchString(rec.ID) {
		return fmt.Errorf("verification: record id %q does not match shortContract_UTCDATE[_vN]", rec.ID)
	}
	return nil
}

// CheckDedupInvariant enforces invariant 2: for every contract, within any
// dedup.WindowDedupe-wide trailing window there is at most one AlertRecord
// with the same or weaker tier than an earlier record in that window;
// strictly-stronger upgrades may always appear. records must already be
// ordered oldest-first, the order the durable log itself appends in.
func CheckDedupInvariant(records []domain.AlertRecord) error {
	var recent []domain.AlertRecord
	for i, rec := range records {
		recent = recent[:0]
		for _, prior := range records[:i] {
			if prior.Contract != rec.Contract {
				continue
			}
			if rec.Timestamp.Sub(prior.Timestamp) <= dedup.WindowDedupe {
				recent = append(recent, prior)
			}
		}
		for _, prior := range recent {
			if !rec.Tier.Stronger(prior.Tier) {
				return fmt.Errorf("verification: record %d (id=%q contract=%q tier=%v) repeats or weakens tier %v from id=%q within the %s dedup window", i, rec.ID, rec.Contract, rec.Tier, prior.Tier, prior.ID, dedup.WindowDedupe)
			}
		}
	}
	return nil
}
