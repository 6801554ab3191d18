package domain

import (
	"errors"
	"fmt"
	"math"
)

type SearchMode int

const (
	SearchHybrid SearchMode = iota
	SearchLexical
	SearchVector
)

func ParseSearchMode(s string) (SearchMode, error) {
	switch s {
	case "", "hybrid":
		return SearchHybrid, nil
	case "lexical":
		return SearchLexical, nil
	case "vector":
		return SearchVector, nil
	}
	return SearchHybrid, WrapError(ErrValidation, "parse search mode", fmt.Errorf("unknown mode %q", s))
}

func (m SearchMode) String() string {
	switch m {
	case SearchLexical:
		return "lexical"
	case SearchVector:
		return "vector"
	default:
		return "hybrid"
	}
}

// Fragment is a transient (message, score) search hit. HasEmbedding marks
// whether a vector existed for the message at query time; without one the
// hybrid score is the lexical score alone.
type Fragment struct {
	Message      Message `json:"message"`
	Score        float64 `json:"score"`
	HasEmbedding bool    `json:"has_embedding"`
}

// ContextWindow is a contiguous span of one conversation assembled around a
// matched fragment, ready for a downstream generator.
type ContextWindow struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	SeedMessageID  string    `json:"seed_message_id"`
	Score          float64   `json:"score"`
}

func (w ContextWindow) FirstSeq() int {
	if len(w.Messages) == 0 {
		return 0
	}
	return w.Messages[0].Seq
}

func (w ContextWindow) LastSeq() int {
	if len(w.Messages) == 0 {
		return 0
	}
	return w.Messages[len(w.Messages)-1].Seq
}

// FusionWeights controls how the lexical and vector score distributions are
// combined in hybrid mode. Weights must sum to 1.
type FusionWeights struct {
	Lexical float64
	Vector  float64
}

func NewFusionWeights(lexical, vector float64) (FusionWeights, error) {
	w := FusionWeights{Lexical: lexical, Vector: vector}
	if err := w.Validate(); err != nil {
		return FusionWeights{}, err
	}
	return w, nil
}

func (w FusionWeights) Validate() error {
	if w.Lexical < 0 || w.Vector < 0 {
		return WrapError(ErrValidation, "fusion weights", errors.New("weights must be non-negative"))
	}
	if math.Abs(w.Lexical+w.Vector-1.0) > 1e-9 {
		return WrapError(ErrValidation, "fusion weights",
			fmt.Errorf("weights must sum to 1.0, got %.4f", w.Lexical+w.Vector))
	}
	return nil
}

func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Lexical: 0.4, Vector: 0.6}
}
