package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
	"github.com/kirillkom/conversation-archive/internal/core/ports"
)

const defaultTopKWindows = 5

// RetrievalConfig tunes window expansion and scoring.
type RetrievalConfig struct {
	// OverfetchFactor multiplies topKWindows for the candidate search.
	OverfetchFactor int
	// MaxSpan bounds how many neighbors are loaded and walked per direction.
	MaxSpan int
	// StepDecay is the per-step proximity decay applied with distance.
	StepDecay float64
	// StepTimeGap is the time gap to the seed beyond which the time factor
	// of the decay starts falling off.
	StepTimeGap time.Duration
	// DecayThreshold terminates expansion when a neighbor's decay drops
	// below it.
	DecayThreshold float64
	// RoleBias boosts expansion toward the direction holding the
	// complementary role, e.g. the question preceding a matched answer.
	RoleBias float64
	// ProximityWeight and RecencyWeight adjust the window score around the
	// seed fragment's base score.
	ProximityWeight float64
	RecencyWeight   float64
	RecencyHalfLife time.Duration
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		OverfetchFactor: 3,
		MaxSpan:         8,
		StepDecay:       0.7,
		StepTimeGap:     10 * time.Minute,
		DecayThreshold:  0.35,
		RoleBias:        1.25,
		ProximityWeight: 0.15,
		RecencyWeight:   0.05,
		RecencyHalfLife: 72 * time.Hour,
	}
}

func (c RetrievalConfig) Validate() error {
	if c.OverfetchFactor < 1 {
		return domain.WrapError(domain.ErrValidation, "retrieval config", errors.New("overfetch factor must be >= 1"))
	}
	if c.MaxSpan < 0 {
		return domain.WrapError(domain.ErrValidation, "retrieval config", errors.New("max span must be >= 0"))
	}
	if c.StepDecay <= 0 || c.StepDecay >= 1 {
		return domain.WrapError(domain.ErrValidation, "retrieval config", errors.New("step decay must be in (0, 1)"))
	}
	if c.DecayThreshold <= 0 || c.DecayThreshold >= 1 {
		return domain.WrapError(domain.ErrValidation, "retrieval config", errors.New("decay threshold must be in (0, 1)"))
	}
	if c.RoleBias < 1 {
		return domain.WrapError(domain.ErrValidation, "retrieval config", errors.New("role bias must be >= 1"))
	}
	return nil
}

// ContextRetrieveUseCase expands ranked fragments into coherent, merged,
// budget-bounded context windows.
type ContextRetrieveUseCase struct {
	searcher ports.Searcher
	messages ports.MessageStore
	cfg      RetrievalConfig
	now      func() time.Time
}

func NewContextRetrieveUseCase(
	searcher ports.Searcher,
	messages ports.MessageStore,
	cfg RetrievalConfig,
) (*ContextRetrieveUseCase, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ContextRetrieveUseCase{
		searcher: searcher,
		messages: messages,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

func (uc *ContextRetrieveUseCase) Retrieve(ctx context.Context, query string, topKWindows, tokenBudget int) ([]domain.ContextWindow, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "retrieve", errors.New("empty query"))
	}
	if topKWindows <= 0 {
		topKWindows = defaultTopKWindows
	}

	seeds, err := uc.searcher.Search(ctx, query, domain.SearchHybrid, topKWindows*uc.cfg.OverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("candidate search: %w", err)
	}

	now := uc.now()
	windows := make([]domain.ContextWindow, 0, len(seeds))
	for _, seed := range seeds {
		span, err := uc.messages.ListConversationSpan(
			ctx,
			seed.Message.ConversationID,
			seed.Message.Seq-uc.cfg.MaxSpan,
			seed.Message.Seq+uc.cfg.MaxSpan,
		)
		if err != nil {
			return nil, fmt.Errorf("load conversation span: %w", err)
		}
		window, ok := expandWindow(seed, span, uc.cfg, now)
		if !ok {
			continue
		}
		windows = append(windows, window)
	}

	merged := mergeWindows(windows)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].ConversationID != merged[j].ConversationID {
			return merged[i].ConversationID < merged[j].ConversationID
		}
		return merged[i].FirstSeq() < merged[j].FirstSeq()
	})

	if len(merged) > topKWindows {
		merged = merged[:topKWindows]
	}
	return enforceTokenBudget(merged, tokenBudget), nil
}
