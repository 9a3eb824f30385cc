package consensus

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"verdict/internal/domain"
)

const maxFeedbackChars = 1500

func buildPrompts(verdicts []domain.VerdictResponse, requestContext string, category domain.Category) (string, string) {
	systemPrompt := fmt.Sprintf(`You combine independent expert verdicts on a %s submission into one consensus analysis.
Weigh every expert equally. Identify where they agree, where they conflict, and how each conflict should be resolved.

Respond with JSON only (no markdown):
{
  "summary": "2-4 sentence synthesis",
  "confidence_score": 0.0-1.0,
  "agreement_level": "high" | "medium" | "low",
  "key_themes": ["..."],
  "conflicting_opinions": [{"topic": "...", "perspectives": ["..."], "resolution": "..."}],
  "recommendations": [{"recommendation": "...", "confidence": 0.0-1.0, "expert_support": <number of experts backing it>}],
  "expert_breakdown": [{"expert": 1, "rating": <1-10 or null>, "stance": "...", "key_points": ["..."]}]
}
Return exactly %d entries in expert_breakdown, one per expert, in the order given.`, categoryLabel(category), len(verdicts))

	var b strings.Builder
	ctx := strings.TrimSpace(requestContext)
	if ctx == "" {
		ctx = "none"
	}
	b.WriteString("Submission context: ")
	b.WriteString(ctx)
	b.WriteString("\n\nExpert verdicts:\n")
	for i, v := range verdicts {
		rating := "none"
		if v.Rating != nil {
			rating = fmt.Sprintf("%d/10", *v.Rating)
		}
		feedback := strings.TrimSpace(v.Feedback)
		if len(feedback) > maxFeedbackChars {
			feedback = truncateUTF8(feedback, maxFeedbackChars) + "..."
		}
		if feedback == "" {
			feedback = "(no written feedback)"
		}
		b.WriteString(fmt.Sprintf("\nExpert %d (rating: %s, tone: %s):\n%s\n", i+1, rating, v.Tone, feedback))
	}
	return systemPrompt, b.String()
}

func categoryLabel(c domain.Category) string {
	switch c {
	case domain.CategoryAppearance:
		return "appearance"
	case domain.CategoryProfile:
		return "dating/social profile"
	case domain.CategoryWriting:
		return "writing"
	case domain.CategoryDecision:
		return "decision"
	}
	return "general"
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
