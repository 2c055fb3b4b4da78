package supervisor

import (
	"slices"
	"strings"

	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
)

const minTermLength = 3

// MatchFixes returns the blocks whose title, mental model or tags contain at
// least one term, case-insensitively. Blocks matching more terms come first;
// ties keep store order.
func MatchFixes(blocks []knowledge.WisdomBlock, terms []string) []knowledge.WisdomBlock {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) >= minTermLength {
			lowered = append(lowered, t)
		}
	}
	if len(lowered) == 0 {
		return nil
	}

	type scored struct {
		block knowledge.WisdomBlock
		hits  int
	}
	var hits []scored
	for _, b := range blocks {
		if n := countHits(b, lowered); n > 0 {
			hits = append(hits, scored{block: b, hits: n})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return b.hits - a.hits })

	out := make([]knowledge.WisdomBlock, len(hits))
	for i, h := range hits {
		out[i] = h.block
	}
	return out
}

func countHits(b knowledge.WisdomBlock, terms []string) int {
	fields := []string{strings.ToLower(b.Title), strings.ToLower(b.MentalModel)}
	for _, tag := range b.Tags {
		fields = append(fields, strings.ToLower(tag))
	}

	n := 0
	for _, term := range terms {
		if slices.ContainsFunc(fields, func(f string) bool { return f != "" && strings.Contains(f, term) }) {
			n++
		}
	}
	return n
}
