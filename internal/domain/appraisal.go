package domain

import (
	"slices"
	"sync"
)

// ReplyKind discriminates how an appraisal was recovered from a model reply.
type ReplyKind string

const (
	// ReplyJSON means the reply parsed as a JSON object carrying a price.
	ReplyJSON ReplyKind = "json"

	// ReplyText means the reply was free text; any price came from pattern matching.
	ReplyText ReplyKind = "text"

	// ReplyError means the provider call failed and no reply exists.
	ReplyError ReplyKind = "error"
)

// Appraisal is the (price, explanation) pair extracted from one model reply.
// A nil Price marks the appraisal unusable; it is never treated as zero.
type Appraisal struct {
	Price       *float64  `json:"price"`
	Explanation string    `json:"explanation"`
	Kind        ReplyKind `json:"kind"`

	// Raw is the reply text the appraisal was extracted from.
	Raw string `json:"-"`
}

// Usable reports whether the appraisal carries a price.
func (a Appraisal) Usable() bool { return a.Price != nil }

// Failed reports whether the appraisal is a provider-failure sentinel.
func (a Appraisal) Failed() bool { return a.Kind == ReplyError }

// ResponseHistory records every appraisal of one run, keyed by appraiser and
// indexed by round (0 is the initial answer, 1..N the challenge rounds).
//
// Each appraiser only ever appends to its own slice. The mutex guards the map
// so concurrent appraisers can record without coordinating with each other.
type ResponseHistory struct {
	mu     sync.RWMutex
	rounds map[string][]Appraisal
}

// NewResponseHistory creates an empty history.
func NewResponseHistory() *ResponseHistory {
	return &ResponseHistory{rounds: make(map[string][]Appraisal)}
}

// Record appends the appraisal for the next round of the given appraiser and
// returns the round index it was stored at.
func (h *ResponseHistory) Record(appraiserID string, a Appraisal) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rounds[appraiserID] = append(h.rounds[appraiserID], a)
	return len(h.rounds[appraiserID]) - 1
}

// Round returns the appraisal recorded at round k.
func (h *ResponseHistory) Round(appraiserID string, k int) (Appraisal, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := h.rounds[appraiserID]
	if k < 0 || k >= len(rs) {
		return Appraisal{}, false
	}
	return rs[k], true
}

// Initial returns the round-0 appraisal.
func (h *ResponseHistory) Initial(appraiserID string) (Appraisal, bool) {
	return h.Round(appraiserID, 0)
}

// Final returns the latest usable challenge-round appraisal (round >= 1).
// Failed or unparseable rounds are skipped so a late failure does not erase
// an earlier usable answer.
func (h *ResponseHistory) Final(appraiserID string) (Appraisal, int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := h.rounds[appraiserID]
	for k := len(rs) - 1; k >= 1; k-- {
		if rs[k].Usable() {
			return rs[k], k, true
		}
	}
	return Appraisal{}, 0, false
}

// Latest returns the most recent usable appraisal in any round, including round 0.
func (h *ResponseHistory) Latest(appraiserID string) (Appraisal, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := h.rounds[appraiserID]
	for k := len(rs) - 1; k >= 0; k-- {
		if rs[k].Usable() {
			return rs[k], true
		}
	}
	return Appraisal{}, false
}

// Rounds returns the number of rounds recorded for an appraiser.
func (h *ResponseHistory) Rounds(appraiserID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rounds[appraiserID])
}

// All returns a copy of the appraiser's rounds.
func (h *ResponseHistory) All(appraiserID string) []Appraisal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.rounds[appraiserID])
}

// Appraisers returns the recorded appraiser IDs in sorted order.
func (h *ResponseHistory) Appraisers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rounds))
	for id := range h.rounds {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
