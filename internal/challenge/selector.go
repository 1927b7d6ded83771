package challenge

import (
	"math/rand/v2"
	"sync"

	"github.com/ahrav/go-appraise/internal/domain"
)

// selector picks challenge prompts. It is shared by all appraisers of a run;
// per-appraiser state lives in the caller.
type selector struct {
	prompts []string
	policy  domain.SelectionPolicy

	mu  sync.Mutex
	rng *rand.Rand
}

func newSelector(pool []string, policy domain.SelectionPolicy, rng *rand.Rand) *selector {
	if policy == "" {
		policy = domain.SelectionRandom
	}
	return &selector{prompts: distinct(pool), policy: policy, rng: rng}
}

// next returns the prompt for round (1-based) of the appraiser at offset,
// never repeating prev when another distinct prompt exists.
func (s *selector) next(offset, round int, prev string) string {
	n := len(s.prompts)
	switch {
	case n == 0:
		return ""
	case n == 1:
		return s.prompts[0]
	}

	if s.policy == domain.SelectionRoundRobin {
		return s.prompts[(offset+round-1)%n]
	}

	candidates := make([]string, 0, n)
	for _, p := range s.prompts {
		if p != prev {
			candidates = append(candidates, p)
		}
	}
	return candidates[s.intN(len(candidates))]
}

func (s *selector) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func distinct(pool []string) []string {
	seen := make(map[string]struct{}, len(pool))
	out := make([]string, 0, len(pool))
	for _, p := range pool {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
