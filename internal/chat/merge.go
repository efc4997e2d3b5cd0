// ABOUTME: Pure timeline merge primitive shared by every ingest path.
// ABOUTME: Id-deduplicated insertion preserving the (sentAt, id) total order.

package chat

// MergeTimeline merges incoming messages into an ordered timeline and
// returns the result together with the number of messages actually added.
//
// Existing must already be in (sentAt, id) order; the result always is.
// Incoming messages whose id is already present are dropped, which makes
// the merge idempotent: replaying an identical page or push is a no-op.
// The input slices are not mutated.
func MergeTimeline(existing, incoming []Message) ([]Message, int) {
	if len(incoming) == 0 {
		return existing, 0
	}

	present := make(map[string]struct{}, len(existing))
	for i := range existing {
		present[existing[i].ID] = struct{}{}
	}

	fresh := make([]Message, 0, len(incoming))
	for i := range incoming {
		m := incoming[i]
		if _, dup := present[m.ID]; dup {
			continue
		}
		// Pages can repeat a message within themselves too.
		present[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return existing, 0
	}

	// Insertion sort of the fresh batch, then a linear merge of two
	// ordered runs. Batches are small (a page or a single push), so this
	// stays cheap.
	for i := 1; i < len(fresh); i++ {
		for j := i; j > 0 && fresh[j].Before(&fresh[j-1]); j-- {
			fresh[j], fresh[j-1] = fresh[j-1], fresh[j]
		}
	}

	merged := make([]Message, 0, len(existing)+len(fresh))
	e, f := 0, 0
	for e < len(existing) && f < len(fresh) {
		if existing[e].Before(&fresh[f]) {
			merged = append(merged, existing[e])
			e++
		} else {
			merged = append(merged, fresh[f])
			f++
		}
	}
	merged = append(merged, existing[e:]...)
	merged = append(merged, fresh[f:]...)

	return merged, len(fresh)
}
