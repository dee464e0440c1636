package delivery

import (
	"math/rand/v2"
	"slices"
	"strings"
)

// MistakeKind names a deliberate imperfection.
type MistakeKind string

const (
	MistakeTypo    MistakeKind = "typo"
	MistakePartial MistakeKind = "partial_response"
	MistakeReorder MistakeKind = "reorder"
	MistakeDelay   MistakeKind = "delay_mistake"
)

// MistakeDecision is decided per response and never persisted.
type MistakeDecision struct {
	IsMistake      bool
	Kind           MistakeKind
	OriginalTokens []string
	// Text is the corrupted reply. Equal to the original for delay mistakes.
	Text string
}

// Textual reports whether the mistake changed the sent text.
func (d MistakeDecision) Textual() bool {
	return d.IsMistake && d.Kind != MistakeDelay
}

// decideMistake corrupts text with probability p, choosing uniformly among
// the allowed kinds that can apply to it. Empty allowed means all kinds.
func decideMistake(rng *rand.Rand, text string, p float64, allowed []MistakeKind) MistakeDecision {
	tokens := strings.Fields(text)
	dec := MistakeDecision{OriginalTokens: tokens, Text: text}
	if len(tokens) == 0 || rng.Float64() >= p {
		return dec
	}

	kinds := applicableKinds(tokens)
	if len(allowed) > 0 {
		kinds = slices.DeleteFunc(kinds, func(k MistakeKind) bool { return !slices.Contains(allowed, k) })
	}
	if len(kinds) == 0 {
		return dec
	}
	kind := kinds[rng.IntN(len(kinds))]

	dec.IsMistake = true
	dec.Kind = kind
	switch kind {
	case MistakeTypo:
		dec.Text = strings.Join(typo(rng, tokens), " ")
	case MistakeReorder:
		dec.Text = strings.Join(reorder(rng, tokens), " ")
	case MistakePartial:
		dec.Text = strings.Join(partial(rng, tokens), " ")
	}
	return dec
}

func applicableKinds(tokens []string) []MistakeKind {
	kinds := make([]MistakeKind, 0, 4)
	if len(typoSites(tokens)) > 0 {
		kinds = append(kinds, MistakeTypo)
	}
	if len(tokens) >= 2 {
		kinds = append(kinds, MistakePartial)
		if hasDistinct(tokens) {
			kinds = append(kinds, MistakeReorder)
		}
	}
	return append(kinds, MistakeDelay)
}

type site struct{ token, pos int }

func typoSites(tokens []string) []site {
	var sites []site
	for i, tok := range tokens {
		for j, r := range []rune(tok) {
			if len(Neighbors(r)) > 0 {
				sites = append(sites, site{i, j})
			}
		}
	}
	return sites
}

// typo swaps one rune for a keyboard neighbor.
func typo(rng *rand.Rand, tokens []string) []string {
	out := append([]string(nil), tokens...)
	sites := typoSites(tokens)
	s := sites[rng.IntN(len(sites))]

	runes := []rune(out[s.token])
	adj := Neighbors(runes[s.pos])
	runes[s.pos] = adj[rng.IntN(len(adj))]
	out[s.token] = string(runes)
	return out
}

// reorder returns a permutation that differs from tokens.
func reorder(rng *rand.Rand, tokens []string) []string {
	out := append([]string(nil), tokens...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if !slices.Equal(out, tokens) {
		return out
	}
	copy(out, tokens)
	for i := 0; i+1 < len(out); i++ {
		if out[i] != out[i+1] {
			out[i], out[i+1] = out[i+1], out[i]
			break
		}
	}
	return out
}

// partial returns a random non-empty strict subset in original order.
func partial(rng *rand.Rand, tokens []string) []string {
	n := len(tokens)
	k := 1 + rng.IntN(n-1)
	idx := rng.Perm(n)[:k]
	slices.Sort(idx)

	out := make([]string, k)
	for i, j := range idx {
		out[i] = tokens[j]
	}
	return out
}

func hasDistinct(tokens []string) bool {
	for _, t := range tokens[1:] {
		if t != tokens[0] {
			return true
		}
	}
	return false
}
