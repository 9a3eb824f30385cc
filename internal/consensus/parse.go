package consensus

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"verdict/internal/domain"
)

type rawConsensus struct {
	Summary         string               `json:"summary"`
	ConfidenceScore float64              `json:"confidence_score"`
	AgreementLevel  string               `json:"agreement_level"`
	KeyThemes       []string             `json:"key_themes"`
	Conflicts       []rawConflict        `json:"conflicting_opinions"`
	Recommendations []rawRecommendation  `json:"recommendations"`
	ExpertBreakdown []rawExpertBreakdown `json:"expert_breakdown"`
}

type rawConflict struct {
	Topic        string   `json:"topic"`
	Perspectives []string `json:"perspectives"`
	Resolution   string   `json:"resolution"`
}

type rawRecommendation struct {
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	ExpertSupport  float64 `json:"expert_support"`
}

type rawExpertBreakdown struct {
	Expert    int      `json:"expert"`
	Rating    *float64 `json:"rating"`
	Stance    string   `json:"stance"`
	KeyPoints []string `json:"key_points"`
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func parseConsensusResponse(responseText string) (rawConsensus, error) {
	responseText = stripCodeFence(responseText)

	var raw rawConsensus
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return raw, fmt.Errorf("parsing consensus response: %w (truncated response: %s)", err, truncated)
	}
	if strings.TrimSpace(raw.Summary) == "" {
		return raw, fmt.Errorf("parsing consensus response: missing summary")
	}
	return raw, nil
}

// normalize clamps the provider's numbers into range. Agreement is raised
// to what the confidence implies and never lowered.
func normalize(raw rawConsensus, expertCount int) domain.ConsensusResult {
	confidence := clamp01(raw.ConfidenceScore)

	level := domain.AgreementLevel(strings.ToLower(strings.TrimSpace(raw.AgreementLevel)))
	implied := domain.AgreementForConfidence(confidence)
	if !validAgreement(level) || implied.Rank() > level.Rank() {
		level = implied
	}

	result := domain.ConsensusResult{
		Summary:         strings.TrimSpace(raw.Summary),
		ConfidenceScore: confidence,
		AgreementLevel:  level,
		KeyThemes:       nonNil(raw.KeyThemes),
		Conflicts:       make([]domain.ConsensusConflict, 0, len(raw.Conflicts)),
		Recommendations: make([]domain.Recommendation, 0, len(raw.Recommendations)),
		ExpertBreakdown: make([]domain.ExpertSummary, 0, len(raw.ExpertBreakdown)),
	}

	for _, c := range raw.Conflicts {
		result.Conflicts = append(result.Conflicts, domain.ConsensusConflict{
			Topic:        strings.TrimSpace(c.Topic),
			Perspectives: nonNil(c.Perspectives),
			Resolution:   strings.TrimSpace(c.Resolution),
		})
	}

	for _, r := range raw.Recommendations {
		support := int(math.Round(r.ExpertSupport))
		if support < 0 {
			support = 0
		}
		if support > expertCount {
			support = expertCount
		}
		result.Recommendations = append(result.Recommendations, domain.Recommendation{
			Text:          strings.TrimSpace(r.Recommendation),
			Confidence:    clamp01(r.Confidence),
			ExpertSupport: support,
		})
	}
	sort.SliceStable(result.Recommendations, func(i, j int) bool {
		a, b := result.Recommendations[i], result.Recommendations[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ExpertSupport > b.ExpertSupport
	})

	for i, e := range raw.ExpertBreakdown {
		expert := e.Expert
		if expert <= 0 {
			expert = i + 1
		}
		var rating *int
		if e.Rating != nil {
			v := int(math.Round(*e.Rating))
			rating = &v
		}
		result.ExpertBreakdown = append(result.ExpertBreakdown, domain.ExpertSummary{
			Expert:    expert,
			Rating:    rating,
			Stance:    strings.TrimSpace(e.Stance),
			KeyPoints: nonNil(e.KeyPoints),
		})
	}
	return result
}

func validAgreement(a domain.AgreementLevel) bool {
	return a == domain.AgreementLow || a == domain.AgreementMedium || a == domain.AgreementHigh
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
