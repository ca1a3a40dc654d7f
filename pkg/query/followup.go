package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

const (
	// MaxFollowUps caps the suggestions returned by SuggestFollowUps.
	MaxFollowUps = 3
	// FollowUpMaxTokens bounds the completion that produces the suggestions.
	FollowUpMaxTokens = 100
)

// SuggestFollowUps asks for up to MaxFollowUps questions a customer might
// ask after answer, one per line of model output. Failures yield none.
func (e *Engine) SuggestFollowUps(ctx context.Context, answer string) []string {
	if strings.TrimSpace(answer) == "" {
		return []string{}
	}
	text, err := e.client.GenerateCompletion(
		ctx,
		fmt.Sprintf(ai.FollowUpUserPrompt, answer),
		ai.WithSystemPrompts(ai.FollowUpSystemPrompt),
		ai.WithMaxTokens(FollowUpMaxTokens),
		ai.WithTemperature(0.7),
	)
	if err != nil {
		logger.Warn("Follow-up suggestion failed", "kind", ai.KindOf(err), "err", err)
		return []string{}
	}
	return parseFollowUps(text)
}

// parseFollowUps keeps non-empty lines, stripping list markers like "1." or
// "-".
func parseFollowUps(text string) []string {
	out := make([]string, 0, MaxFollowUps)
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == MaxFollowUps {
			break
		}
	}
	return out
}
