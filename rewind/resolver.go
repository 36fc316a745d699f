// Package rewind restores a session to an earlier file checkpoint, with
// fallback candidate resolution when the exact checkpoint is missing.
//
// The resolver is a pure function over a loaded session history (the history
// package does the I/O). The retry loop drives the external rewind
// capability: exact target first, then — only for the specific
// checkpoint-missing failure — each fallback candidate in order.
package rewind

import "claudebridge/history"

// MaxCandidates caps the fallback candidate list.
const MaxCandidates = 8

// ResolveCandidates computes fallback rewind targets for a requested message
// uuid that has no stored checkpoint.
//
// The candidate order is the tie-break policy: first the parent-chain walk
// upward from the requested uuid (stopping at the first user text message,
// with a visited set so cyclic logs terminate), then the most recent user
// text message in the entire history as a final anchor. The walk pushes the
// stopping user message a second time; first-occurrence de-duplication
// collapses it, preserving the observed candidate order exactly.
func ResolveCandidates(requestedUUID string, records []history.MessageRecord) []string {
	index := history.ByUUID(records)

	var candidates []string
	visited := make(map[string]bool)

	cur := requestedUUID
	for cur != "" {
		rec, ok := index[cur]
		if !ok || visited[cur] {
			break
		}
		visited[cur] = true
		candidates = append(candidates, cur)

		if rec.IsUserText() {
			candidates = append(candidates, cur)
			break
		}
		cur = rec.ParentUUID
	}

	if latest, ok := history.LatestUserTextMessage(records); ok {
		candidates = append(candidates, latest.UUID)
	}

	return dedupe(candidates, MaxCandidates)
}

// dedupe removes duplicates preserving first-occurrence order, drops empty
// ids, and truncates to max entries.
func dedupe(ids []string, max int) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == max {
			break
		}
	}
	return out
}
