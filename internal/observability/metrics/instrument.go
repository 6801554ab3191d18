package metrics

import (
	"context"
	"time"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
	"github.com/kirillkom/conversation-archive/internal/core/ports"
)

// InstrumentedSearcher decorates a Searcher with request metrics.
type InstrumentedSearcher struct {
	next    ports.Searcher
	metrics *SearchMetrics
	service string
}

func NewInstrumentedSearcher(next ports.Searcher, searchMetrics *SearchMetrics, service string) *InstrumentedSearcher {
	return &InstrumentedSearcher{next: next, metrics: searchMetrics, service: service}
}

func (s *InstrumentedSearcher) Search(ctx context.Context, query string, mode domain.SearchMode, limit int) ([]domain.Fragment, error) {
	start := time.Now()
	frags, err := s.next.Search(ctx, query, mode, limit)
	s.metrics.ObserveSearch(s.service, mode.String(), time.Since(start), err)
	return frags, err
}

// InstrumentedRetriever decorates a ContextRetriever with request and
// window-count metrics.
type InstrumentedRetriever struct {
	next    ports.ContextRetriever
	metrics *SearchMetrics
	service string
}

func NewInstrumentedRetriever(next ports.ContextRetriever, searchMetrics *SearchMetrics, service string) *InstrumentedRetriever {
	return &InstrumentedRetriever{next: next, metrics: searchMetrics, service: service}
}

func (r *InstrumentedRetriever) Retrieve(ctx context.Context, query string, topKWindows, tokenBudget int) ([]domain.ContextWindow, error) {
	start := time.Now()
	windows, err := r.next.Retrieve(ctx, query, topKWindows, tokenBudget)
	r.metrics.ObserveSearch(r.service, "retrieve", time.Since(start), err)
	if err == nil {
		r.metrics.ObserveWindows(len(windows))
	}
	return windows, err
}
