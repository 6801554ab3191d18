package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

type searchIndexFake struct {
	lexical    []domain.Fragment
	semantic   []domain.Fragment
	lexicalErr error
	vectorErr  error

	lastLexicalQuery string
}

func (f *searchIndexFake) SearchLexical(_ context.Context, query string, _ int) ([]domain.Fragment, error) {
	f.lastLexicalQuery = query
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	return f.lexical, nil
}

func (f *searchIndexFake) SearchVector(_ context.Context, _ []float32, _ string, _ int) ([]domain.Fragment, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.semantic, nil
}

func frag(id string, score float64, hasEmbedding bool, createdAt time.Time) domain.Fragment {
	return domain.Fragment{
		Message: domain.Message{
			ID:             id,
			ConversationID: "c-1",
			Content:        "content of " + id,
			CreatedAt:      createdAt,
		},
		Score:        score,
		HasEmbedding: hasEmbedding,
	}
}

func newTestSearchUC(t *testing.T, index *searchIndexFake, embedder *embedderFake) *SearchUseCase {
	t.Helper()
	uc, err := NewSearchUseCase(index, embedder, domain.DefaultFusionWeights(), "test-model", 30)
	if err != nil {
		t.Fatalf("NewSearchUseCase() error = %v", err)
	}
	return uc
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	uc := newTestSearchUC(t, &searchIndexFake{}, &embedderFake{vector: []float32{1}})
	_, err := uc.Search(context.Background(), "   ", domain.SearchHybrid, 5)
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchLexicalModeExpandsSynonyms(t *testing.T) {
	index := &searchIndexFake{lexical: []domain.Fragment{frag("m-1", 0.9, false, time.Now())}}
	uc := newTestSearchUC(t, index, &embedderFake{vector: []float32{1}})

	got, err := uc.Search(context.Background(), "auth error", domain.SearchLexical, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(got))
	}
	for _, term := range []string{"auth", "authentication", "error", "failure"} {
		if !strings.Contains(index.lastLexicalQuery, term) {
			t.Fatalf("expanded query %q missing %q", index.lastLexicalQuery, term)
		}
	}
}

func TestHybridMissingEmbeddingFallsBackToLexicalScore(t *testing.T) {
	now := time.Now()
	index := &searchIndexFake{
		lexical: []domain.Fragment{
			frag("indexed", 0.2, true, now),
			frag("unindexed", 0.8, false, now),
		},
		semantic: []domain.Fragment{
			frag("indexed", 0.9, true, now),
		},
	}
	uc := newTestSearchUC(t, index, &embedderFake{vector: []float32{1}})

	got, err := uc.Search(context.Background(), "hello", domain.SearchHybrid, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unindexed message must still appear, got %d fragments", len(got))
	}

	var unindexed *domain.Fragment
	for i := range got {
		if got[i].Message.ID == "unindexed" {
			unindexed = &got[i]
		}
	}
	if unindexed == nil {
		t.Fatalf("unindexed message missing from results")
	}
	// Top of the lexical distribution normalizes to 1 and is used as-is.
	if unindexed.Score != 1.0 {
		t.Fatalf("expected lexical-only score 1.0, got %v", unindexed.Score)
	}
}

func TestHybridDegradesToLexicalWhenQueryEmbeddingFails(t *testing.T) {
	now := time.Now()
	index := &searchIndexFake{
		lexical: []domain.Fragment{frag("m-1", 0.5, true, now), frag("m-2", 0.3, true, now)},
	}
	uc := newTestSearchUC(t, index, &embedderFake{err: errors.New("provider down")})

	got, err := uc.Search(context.Background(), "hello", domain.SearchHybrid, 5)
	if err != nil {
		t.Fatalf("hybrid search must degrade, got error %v", err)
	}
	if len(got) != 2 || got[0].Message.ID != "m-1" {
		t.Fatalf("unexpected degraded results: %+v", got)
	}
}

func TestSearchTiesBrokenByRecency(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	index := &searchIndexFake{
		lexical: []domain.Fragment{
			frag("old", 0.5, false, older),
			frag("new", 0.5, false, newer),
		},
	}
	uc := newTestSearchUC(t, index, &embedderFake{vector: []float32{1}})

	got, err := uc.Search(context.Background(), "hello", domain.SearchLexical, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got[0].Message.ID != "new" {
		t.Fatalf("tie must prefer the newer message, got %s first", got[0].Message.ID)
	}
}

func TestSearchVectorMode(t *testing.T) {
	index := &searchIndexFake{semantic: []domain.Fragment{frag("m-1", 0.95, true, time.Now())}}
	uc := newTestSearchUC(t, index, &embedderFake{vector: []float32{1}})

	got, err := uc.Search(context.Background(), "hello", domain.SearchVector, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || !got[0].HasEmbedding {
		t.Fatalf("unexpected vector results: %+v", got)
	}
}

func TestSearchVectorModeFailsWhenEmbeddingFails(t *testing.T) {
	uc := newTestSearchUC(t, &searchIndexFake{}, &embedderFake{err: errors.New("provider down")})
	if _, err := uc.Search(context.Background(), "hello", domain.SearchVector, 5); err == nil {
		t.Fatalf("vector mode has no fallback and must fail")
	}
}

func TestSearchLimitApplied(t *testing.T) {
	now := time.Now()
	index := &searchIndexFake{
		lexical: []domain.Fragment{
			frag("m-1", 0.9, false, now),
			frag("m-2", 0.8, false, now),
			frag("m-3", 0.7, false, now),
		},
	}
	uc := newTestSearchUC(t, index, &embedderFake{err: errors.New("provider down")})

	got, err := uc.Search(context.Background(), "hello", domain.SearchHybrid, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit 2 applied, got %d", len(got))
	}
}
