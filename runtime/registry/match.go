package registry

import (
	"sort"
	"strings"
	"unicode"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
)

// Match finds the specialist whose capability tags best match the requested
// capability. Matching is soft: an exact tag wins outright, otherwise tags
// are compared as token sets. Returns nil when no specialist scores above
// zero.
func (r *Registry) Match(capability string) (*a2a.AgentCard, float64) {
	var (
		best      *a2a.AgentCard
		bestScore float64
	)
	for _, card := range r.Specialists() {
		score := CardScore(card, capability)
		if score > bestScore {
			best, bestScore = card, score
		}
	}
	return best, bestScore
}

// RankedMatch holds one candidate from MatchAll.
type RankedMatch struct {
	Card  *a2a.AgentCard
	Score float64
}

// MatchAll returns every specialist with a nonzero score for the requested
// capability, best first. Ties keep load order.
func (r *Registry) MatchAll(capability string) []RankedMatch {
	var out []RankedMatch
	for _, card := range r.Specialists() {
		if score := CardScore(card, capability); score > 0 {
			out = append(out, RankedMatch{Card: card, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// CardScore returns the best similarity between the requested capability and
// any of the card's tags.
func CardScore(card *a2a.AgentCard, capability string) float64 {
	var best float64
	for _, tag := range card.Capabilities {
		if s := Similarity(tag, capability); s > best {
			best = s
		}
	}
	return best
}

// Similarity scores two capability strings in [0, 1]. Identical normalized
// strings score 1; otherwise the score is the Jaccard index of their token
// sets, with a floor of 0.5 when one token set contains the other.
func Similarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if equalSets(ta, tb) {
		return 1
	}

	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	if inter == 0 {
		return 0
	}

	union := len(ta) + len(tb) - inter
	score := float64(inter) / float64(union)
	if inter == len(ta) || inter == len(tb) {
		// One side is a subset of the other: "research" should still
		// match "academic research" strongly.
		if score < 0.5 {
			score = 0.5
		}
	}
	return score
}

// tokens lowercases s and splits it on any non-alphanumeric rune.
func tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func equalSets(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for tok := range a {
		if _, ok := b[tok]; !ok {
			return false
		}
	}
	return true
}
