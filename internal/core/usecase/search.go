package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
	"github.com/kirillkom/conversation-archive/internal/core/ports"
)

const (
	defaultSearchLimit      = 10
	defaultHybridCandidates = 30
)

// SearchUseCase produces ranked fragments by lexical relevance, vector
// similarity, or a weighted fusion of both.
type SearchUseCase struct {
	index      ports.SearchIndex
	embedder   ports.Embedder
	weights    domain.FusionWeights
	model      string
	candidates int
}

func NewSearchUseCase(
	index ports.SearchIndex,
	embedder ports.Embedder,
	weights domain.FusionWeights,
	model string,
	hybridCandidates int,
) (*SearchUseCase, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if hybridCandidates <= 0 {
		hybridCandidates = defaultHybridCandidates
	}
	return &SearchUseCase{
		index:      index,
		embedder:   embedder,
		weights:    weights,
		model:      model,
		candidates: hybridCandidates,
	}, nil
}

func (uc *SearchUseCase) Search(ctx context.Context, query string, mode domain.SearchMode, limit int) ([]domain.Fragment, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrValidation, "search", errors.New("empty query"))
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	switch mode {
	case domain.SearchLexical:
		return uc.searchLexical(ctx, query, limit)
	case domain.SearchVector:
		return uc.searchVector(ctx, query, limit)
	case domain.SearchHybrid:
		return uc.searchHybrid(ctx, query, limit)
	}
	return nil, domain.WrapError(domain.ErrValidation, "search", fmt.Errorf("unknown mode %d", mode))
}

func (uc *SearchUseCase) searchLexical(ctx context.Context, query string, limit int) ([]domain.Fragment, error) {
	frags, err := uc.index.SearchLexical(ctx, expandQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	sortFragments(frags)
	return frags, nil
}

func (uc *SearchUseCase) searchVector(ctx context.Context, query string, limit int) ([]domain.Fragment, error) {
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	frags, err := uc.index.SearchVector(ctx, vector, uc.model, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	sortFragments(frags)
	return frags, nil
}

func (uc *SearchUseCase) searchHybrid(ctx context.Context, query string, limit int) ([]domain.Fragment, error) {
	candidates := uc.candidates
	if candidates < limit {
		candidates = limit
	}

	lexical, err := uc.index.SearchLexical(ctx, expandQuery(query), candidates)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// Provider trouble must not break search; serve lexical-only.
		slog.Warn("query embedding unavailable, degrading to lexical", "error", err)
		sortFragments(lexical)
		return trimFragments(lexical, limit), nil
	}

	semantic, err := uc.index.SearchVector(ctx, vector, uc.model, candidates)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	fused := fuseWeighted(lexical, semantic, uc.weights)
	return trimFragments(fused, limit), nil
}

func sortFragments(frags []domain.Fragment) {
	sort.SliceStable(frags, func(i, j int) bool {
		if frags[i].Score != frags[j].Score {
			return frags[i].Score > frags[j].Score
		}
		if !frags[i].Message.CreatedAt.Equal(frags[j].Message.CreatedAt) {
			return frags[i].Message.CreatedAt.After(frags[j].Message.CreatedAt)
		}
		return frags[i].Message.ID < frags[j].Message.ID
	})
}

func trimFragments(frags []domain.Fragment, limit int) []domain.Fragment {
	if limit <= 0 || len(frags) <= limit {
		return frags
	}
	return frags[:limit]
}
