package domain

type AgreementLevel string

const (
	AgreementLow    AgreementLevel = "low"
	AgreementMedium AgreementLevel = "medium"
	AgreementHigh   AgreementLevel = "high"
)

// Rank orders levels low < medium < high. Unknown levels rank as low.
func (a AgreementLevel) Rank() int {
	switch a {
	case AgreementHigh:
		return 2
	case AgreementMedium:
		return 1
	}
	return 0
}

// AgreementForConfidence maps a confidence score onto the fixed thresholds.
func AgreementForConfidence(confidence float64) AgreementLevel {
	switch {
	case confidence >= 0.8:
		return AgreementHigh
	case confidence >= 0.6:
		return AgreementMedium
	}
	return AgreementLow
}

// ConsensusResult is computed on demand from a request's verdicts and never
// persisted.
type ConsensusResult struct {
	Summary         string              `json:"summary"`
	ConfidenceScore float64             `json:"confidence_score"`
	AgreementLevel  AgreementLevel      `json:"agreement_level"`
	KeyThemes       []string            `json:"key_themes"`
	Conflicts       []ConsensusConflict `json:"conflicting_opinions"`
	Recommendations []Recommendation    `json:"recommendations"`
	ExpertBreakdown []ExpertSummary     `json:"expert_breakdown"`
}

type ConsensusConflict struct {
	Topic        string   `json:"topic"`
	Perspectives []string `json:"perspectives"`
	Resolution   string   `json:"resolution"`
}

type Recommendation struct {
	Text          string  `json:"recommendation"`
	Confidence    float64 `json:"confidence"`
	ExpertSupport int     `json:"expert_support"`
}

type ExpertSummary struct {
	Expert    int      `json:"expert"`
	Rating    *int     `json:"rating"`
	Stance    string   `json:"stance"`
	KeyPoints []string `json:"key_points"`
}
