package usecase

import (
	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

type fusedCandidate struct {
	frag  domain.Fragment
	lex   float64
	vec   float64
	inLex bool
	inVec bool
}

// fuseWeighted combines the two channels after min-max normalizing each score
// distribution independently, so neither dominates purely due to scale. A
// candidate without an embedding keeps its normalized lexical score untouched
// instead of being diluted by the weights.
func fuseWeighted(lexical, semantic []domain.Fragment, w domain.FusionWeights) []domain.Fragment {
	lexNorm := normalizeScores(lexical)
	vecNorm := normalizeScores(semantic)

	acc := make(map[string]*fusedCandidate, len(lexical)+len(semantic))

	for i, frag := range lexical {
		acc[frag.Message.ID] = &fusedCandidate{frag: frag, lex: lexNorm[i], inLex: true}
	}
	for i, frag := range semantic {
		cand, ok := acc[frag.Message.ID]
		if !ok {
			cand = &fusedCandidate{frag: frag}
			acc[frag.Message.ID] = cand
		}
		cand.vec = vecNorm[i]
		cand.inVec = true
		cand.frag.HasEmbedding = true
	}

	out := make([]domain.Fragment, 0, len(acc))
	for _, cand := range acc {
		frag := cand.frag
		if frag.HasEmbedding {
			frag.Score = w.Lexical*cand.lex + w.Vector*cand.vec
		} else {
			frag.Score = cand.lex
		}
		out = append(out, frag)
	}

	sortFragments(out)
	return out
}

// normalizeScores min-max normalizes fragment scores positionally. A
// degenerate distribution (single hit or zero range) maps positive scores
// to 1 and the rest to 0.
func normalizeScores(frags []domain.Fragment) []float64 {
	out := make([]float64, len(frags))
	if len(frags) == 0 {
		return out
	}

	minScore := frags[0].Score
	maxScore := frags[0].Score
	for _, frag := range frags[1:] {
		if frag.Score < minScore {
			minScore = frag.Score
		}
		if frag.Score > maxScore {
			maxScore = frag.Score
		}
	}

	scoreRange := maxScore - minScore
	for i, frag := range frags {
		if scoreRange <= 0 {
			if frag.Score > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (frag.Score - minScore) / scoreRange
	}
	return out
}
