package reconcile

import (
	"sort"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// MergeEvents combines confirmed and queued events into one list, newest
// first. An id present in both keeps the confirmed copy.
func MergeEvents(confirmed, queued []record.Event) []record.Event {
	out := make([]record.Event, 0, len(confirmed)+len(queued))
	seen := make(map[string]bool, len(confirmed))
	for _, e := range confirmed {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		e.State = record.StateConfirmed
		out = append(out, e)
	}
	for _, e := range queued {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		e.State = record.StateQueued
		out = append(out, e)
	}
	record.SortNewestFirst(out)
	return out
}

// MergeFollowUps combines evidence by (session, slot); confirmed wins.
// The result is ordered by session then slot.
func MergeFollowUps(confirmed, queued []record.FollowUp) []record.FollowUp {
	out := make([]record.FollowUp, 0, len(confirmed)+len(queued))
	seen := make(map[string]bool, len(confirmed))
	for _, f := range confirmed {
		if seen[f.Key()] {
			continue
		}
		seen[f.Key()] = true
		f.State = record.StateConfirmed
		out = append(out, f)
	}
	for _, f := range queued {
		if seen[f.Key()] {
			continue
		}
		seen[f.Key()] = true
		f.State = record.StateQueued
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

// upsertEvent replaces the event with the same id or appends it.
func upsertEvent(events []record.Event, e record.Event) []record.Event {
	for i := range events {
		if events[i].ID == e.ID {
			events[i] = e
			return events
		}
	}
	return append(events, e)
}

func upsertFollowUp(followUps []record.FollowUp, f record.FollowUp) []record.FollowUp {
	for i := range followUps {
		if followUps[i].Key() == f.Key() {
			followUps[i] = f
			return followUps
		}
	}
	return append(followUps, f)
}
