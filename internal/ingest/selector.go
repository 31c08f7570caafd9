// Package ingest implements candidate selection against a target instant.
package ingest

import (
	"time"

	"stormsync/internal/timestamp"
	"stormsync/internal/types"
)

// SelectExact picks the candidate whose even-minute bucket matches target's.
// Candidates must be sorted newest first. When no candidate lands in the
// target bucket the newest candidate is returned with fellBack set, so a feed
// running slightly behind still yields its freshest data. ok is false only
// when candidates is empty.
func SelectExact(candidates []types.CandidateRecord, target time.Time) (rec types.CandidateRecord, fellBack bool, ok bool) {
	if len(candidates) == 0 {
		return types.CandidateRecord{}, false, false
	}
	bucket := timestamp.RoundToEvenMinute(target)
	for _, c := range candidates {
		if timestamp.RoundToEvenMinute(c.Timestamp).Equal(bucket) {
			return c, false, true
		}
	}
	return candidates[0], true, true
}

// SelectWindow keeps the candidates inside the half-open window
// (target-1m, target], preserving input order. Seconds matter here: parts of
// a multi-part instant carry second-level offsets and all of them must be
// captured.
func SelectWindow(candidates []types.CandidateRecord, target time.Time) []types.CandidateRecord {
	start := target.Add(-time.Minute)
	var kept []types.CandidateRecord
	for _, c := range candidates {
		if c.Timestamp.After(start) && !c.Timestamp.After(target) {
			kept = append(kept, c)
		}
	}
	return kept
}
