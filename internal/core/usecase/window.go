package usecase

import (
	"math"
	"sort"
	"time"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

// expandWindow walks outward from the seed through its conversation span,
// continuing in each direction while the neighbor's proximity/time decay
// (with role bias applied) stays at or above the threshold. The walk is a
// bounded loop over the preloaded span, so cost is linear per seed.
func expandWindow(seed domain.Fragment, span []domain.Message, cfg RetrievalConfig, now time.Time) (domain.ContextWindow, bool) {
	seedIdx := -1
	for i, msg := range span {
		if msg.ID == seed.Message.ID {
			seedIdx = i
			break
		}
	}
	if seedIdx < 0 {
		return domain.ContextWindow{}, false
	}

	backBias, forwardBias := directionBias(span, seedIdx, cfg.RoleBias)

	lo := seedIdx
	for dist := 1; seedIdx-dist >= 0; dist++ {
		if stepDecay(seed.Message, span[seedIdx-dist], dist, cfg)*backBias < cfg.DecayThreshold {
			break
		}
		lo = seedIdx - dist
	}

	hi := seedIdx
	for dist := 1; seedIdx+dist < len(span); dist++ {
		if stepDecay(seed.Message, span[seedIdx+dist], dist, cfg)*forwardBias < cfg.DecayThreshold {
			break
		}
		hi = seedIdx + dist
	}

	messages := make([]domain.Message, hi-lo+1)
	copy(messages, span[lo:hi+1])

	window := domain.ContextWindow{
		ConversationID: seed.Message.ConversationID,
		Messages:       messages,
		SeedMessageID:  seed.Message.ID,
	}
	window.Score = scoreWindow(seed, window, cfg, now)
	return window, true
}

// directionBias prefers the direction carrying the complementary role: the
// user question preceding a matched answer, or the assistant answer following
// a matched question.
func directionBias(span []domain.Message, seedIdx int, bias float64) (back, forward float64) {
	back, forward = 1.0, 1.0
	seedRole := span[seedIdx].Role

	if seedRole == domain.RoleAssistant && seedIdx > 0 && span[seedIdx-1].Role == domain.RoleUser {
		back = bias
	}
	if seedRole == domain.RoleUser && seedIdx+1 < len(span) && span[seedIdx+1].Role == domain.RoleAssistant {
		forward = bias
	}
	return back, forward
}

// stepDecay combines positional decay with a time-gap factor relative to the
// seed. Neighbors written close in time keep the full positional decay;
// beyond the configured gap the factor falls off proportionally.
func stepDecay(seed, neighbor domain.Message, dist int, cfg RetrievalConfig) float64 {
	positional := math.Pow(cfg.StepDecay, float64(dist))

	gap := neighbor.CreatedAt.Sub(seed.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap <= cfg.StepTimeGap || cfg.StepTimeGap <= 0 {
		return positional
	}
	return positional * float64(cfg.StepTimeGap) / float64(gap)
}

func scoreWindow(seed domain.Fragment, window domain.ContextWindow, cfg RetrievalConfig, now time.Time) float64 {
	proximity := 0.0
	members := 0
	newest := seed.Message.CreatedAt

	for _, msg := range window.Messages {
		if msg.CreatedAt.After(newest) {
			newest = msg.CreatedAt
		}
		if msg.ID == seed.Message.ID {
			continue
		}
		dist := msg.Seq - seed.Message.Seq
		if dist < 0 {
			dist = -dist
		}
		proximity += stepDecay(seed.Message, msg, dist, cfg)
		members++
	}
	if members > 0 {
		proximity /= float64(members)
	}

	recency := 0.0
	if cfg.RecencyHalfLife > 0 {
		age := now.Sub(newest)
		if age < 0 {
			age = 0
		}
		recency = math.Exp2(-float64(age) / float64(cfg.RecencyHalfLife))
	}

	return seed.Score*(1+cfg.ProximityWeight*proximity) + cfg.RecencyWeight*recency
}

// mergeWindows merges windows of the same conversation that share at least
// one message. Windows are processed sorted by start, so chains of
// transitively overlapping windows collapse into a single union window in
// one pass. The merged window keeps the higher score and its seed.
func mergeWindows(windows []domain.ContextWindow) []domain.ContextWindow {
	if len(windows) <= 1 {
		return windows
	}

	byConv := make(map[string][]domain.ContextWindow)
	order := make([]string, 0, len(windows))
	for _, w := range windows {
		if _, ok := byConv[w.ConversationID]; !ok {
			order = append(order, w.ConversationID)
		}
		byConv[w.ConversationID] = append(byConv[w.ConversationID], w)
	}

	out := make([]domain.ContextWindow, 0, len(windows))
	for _, convID := range order {
		group := byConv[convID]
		sortWindowsByStart(group)

		current := group[0]
		for _, next := range group[1:] {
			if next.FirstSeq() <= current.LastSeq() {
				current = mergePair(current, next)
				continue
			}
			out = append(out, current)
			current = next
		}
		out = append(out, current)
	}
	return out
}

func sortWindowsByStart(windows []domain.ContextWindow) {
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].FirstSeq() < windows[j].FirstSeq()
	})
}

func mergePair(a, b domain.ContextWindow) domain.ContextWindow {
	merged := domain.ContextWindow{
		ConversationID: a.ConversationID,
		SeedMessageID:  a.SeedMessageID,
		Score:          a.Score,
	}
	if b.Score > a.Score {
		merged.Score = b.Score
		merged.SeedMessageID = b.SeedMessageID
	}

	seen := make(map[int]struct{}, len(a.Messages)+len(b.Messages))
	for _, msg := range a.Messages {
		seen[msg.Seq] = struct{}{}
		merged.Messages = append(merged.Messages, msg)
	}
	for _, msg := range b.Messages {
		if _, ok := seen[msg.Seq]; ok {
			continue
		}
		merged.Messages = append(merged.Messages, msg)
	}
	sortMessagesBySeq(merged.Messages)
	return merged
}

func sortMessagesBySeq(messages []domain.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Seq < messages[j].Seq
	})
}

// estimateTokens approximates the token cost of message content.
func estimateTokens(msg domain.Message) int {
	return (len(msg.Content) + 3) / 4
}

func windowTokens(messages []domain.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateTokens(msg)
	}
	return total
}

// enforceTokenBudget greedily includes windows in score order. The first
// window that does not fit whole is trimmed oldest-first until it fits, and
// the budget is then considered exhausted. A trimmed window that loses its
// seed message loses the seed marker with it. A budget <= 0 means unlimited.
func enforceTokenBudget(windows []domain.ContextWindow, budget int) []domain.ContextWindow {
	if budget <= 0 {
		return windows
	}

	out := make([]domain.ContextWindow, 0, len(windows))
	remaining := budget
	for _, window := range windows {
		cost := windowTokens(window.Messages)
		if cost <= remaining {
			out = append(out, window)
			remaining -= cost
			continue
		}

		messages := window.Messages
		for len(messages) > 0 && windowTokens(messages) > remaining {
			messages = messages[1:]
		}
		if len(messages) > 0 {
			trimmed := window
			trimmed.Messages = messages
			if !containsMessage(messages, window.SeedMessageID) {
				trimmed.SeedMessageID = ""
			}
			out = append(out, trimmed)
		}
		break
	}
	return out
}

func containsMessage(messages []domain.Message, id string) bool {
	for _, msg := range messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}
