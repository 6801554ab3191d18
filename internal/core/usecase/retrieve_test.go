package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

type searcherFake struct {
	fragments []domain.Fragment
	err       error

	lastLimit int
}

func (f *searcherFake) Search(_ context.Context, _ string, _ domain.SearchMode, limit int) ([]domain.Fragment, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.fragments, nil
}

func newTestRetrieveUC(t *testing.T, searcher *searcherFake, store *storeFake, cfg RetrievalConfig) *ContextRetrieveUseCase {
	t.Helper()
	uc, err := NewContextRetrieveUseCase(searcher, store, cfg)
	if err != nil {
		t.Fatalf("NewContextRetrieveUseCase() error = %v", err)
	}
	return uc
}

func seedConversation(store *storeFake, conversationID string, base time.Time, count int) []domain.Message {
	msgs := make([]domain.Message, count)
	for i := 0; i < count; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := spanMessage(conversationID, i+1, role, base.Add(time.Duration(i)*time.Minute))
		store.add(msg)
		msgs[i] = msg
	}
	return msgs
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	uc := newTestRetrieveUC(t, &searcherFake{}, newStoreFake(), DefaultRetrievalConfig())
	if _, err := uc.Retrieve(context.Background(), " ", 3, 0); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRetrievePropagatesSearchFailure(t *testing.T) {
	uc := newTestRetrieveUC(t, &searcherFake{err: errors.New("index down")}, newStoreFake(), DefaultRetrievalConfig())
	if _, err := uc.Retrieve(context.Background(), "query", 3, 0); err == nil {
		t.Fatalf("search failure must propagate")
	}
}

func TestRetrieveOverfetchesCandidates(t *testing.T) {
	searcher := &searcherFake{}
	cfg := DefaultRetrievalConfig()
	uc := newTestRetrieveUC(t, searcher, newStoreFake(), cfg)

	if _, err := uc.Retrieve(context.Background(), "query", 4, 0); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if want := 4 * cfg.OverfetchFactor; searcher.lastLimit != want {
		t.Fatalf("candidate limit = %d, want %d", searcher.lastLimit, want)
	}
}

func TestRetrieveExpandsSeedIntoWindow(t *testing.T) {
	store := newStoreFake()
	base := time.Now().Add(-time.Hour)
	msgs := seedConversation(store, "c-1", base, 5)

	searcher := &searcherFake{fragments: []domain.Fragment{
		{Message: msgs[2], Score: 0.8, HasEmbedding: true},
	}}
	uc := newTestRetrieveUC(t, searcher, store, DefaultRetrievalConfig())

	windows, err := uc.Retrieve(context.Background(), "query", 3, 0)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}

	w := windows[0]
	if w.ConversationID != "c-1" || w.SeedMessageID != msgs[2].ID {
		t.Fatalf("unexpected window identity: %+v", w)
	}
	if len(w.Messages) < 3 {
		t.Fatalf("close-knit neighbors must be included, got %d messages", len(w.Messages))
	}
	if w.FirstSeq() > 3 || w.LastSeq() < 3 {
		t.Fatalf("window [%d, %d] must contain the seed seq 3", w.FirstSeq(), w.LastSeq())
	}
}

func TestRetrieveMergesOverlappingSeeds(t *testing.T) {
	store := newStoreFake()
	base := time.Now().Add(-time.Hour)
	msgs := seedConversation(store, "c-1", base, 6)

	searcher := &searcherFake{fragments: []domain.Fragment{
		{Message: msgs[1], Score: 0.9, HasEmbedding: true},
		{Message: msgs[3], Score: 0.6, HasEmbedding: true},
	}}
	uc := newTestRetrieveUC(t, searcher, store, DefaultRetrievalConfig())

	windows, err := uc.Retrieve(context.Background(), "query", 3, 0)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("overlapping seed windows must merge, got %d windows", len(windows))
	}
	if windows[0].SeedMessageID != msgs[1].ID {
		t.Fatalf("merged window must keep the stronger seed, got %s", windows[0].SeedMessageID)
	}
}

func TestRetrieveCapsWindowCount(t *testing.T) {
	store := newStoreFake()
	base := time.Now().Add(-time.Hour)
	var frags []domain.Fragment
	for _, conv := range []string{"c-1", "c-2", "c-3"} {
		msgs := seedConversation(store, conv, base, 2)
		frags = append(frags, domain.Fragment{Message: msgs[0], Score: 0.5, HasEmbedding: true})
	}
	uc := newTestRetrieveUC(t, &searcherFake{fragments: frags}, store, DefaultRetrievalConfig())

	windows, err := uc.Retrieve(context.Background(), "query", 2, 0)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("topKWindows must cap output, got %d", len(windows))
	}
}

func TestRetrieveAppliesTokenBudget(t *testing.T) {
	store := newStoreFake()
	base := time.Now().Add(-time.Hour)
	msgs := seedConversation(store, "c-1", base, 3)

	searcher := &searcherFake{fragments: []domain.Fragment{
		{Message: msgs[1], Score: 0.8, HasEmbedding: true},
	}}
	uc := newTestRetrieveUC(t, searcher, store, DefaultRetrievalConfig())

	// Each message body is "message N", 9 chars -> 3 tokens.
	windows, err := uc.Retrieve(context.Background(), "query", 3, 4)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 trimmed window, got %d", len(windows))
	}
	if got := len(windows[0].Messages); got != 1 {
		t.Fatalf("budget of 4 tokens fits exactly one message, got %d", got)
	}
	if windows[0].Messages[0].Seq != 3 {
		t.Fatalf("trimming must drop oldest messages first, kept seq %d", windows[0].Messages[0].Seq)
	}
	// The seed (seq 2) was trimmed away, so the marker must not dangle.
	if windows[0].SeedMessageID != "" {
		t.Fatalf("seed marker must be cleared with its message, got %q", windows[0].SeedMessageID)
	}
}

func TestRetrieveConfigValidation(t *testing.T) {
	bad := DefaultRetrievalConfig()
	bad.StepDecay = 1.5
	if _, err := NewContextRetrieveUseCase(&searcherFake{}, newStoreFake(), bad); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("invalid config must be rejected, got %v", err)
	}
}
