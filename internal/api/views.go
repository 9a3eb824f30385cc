package api

import (
	"time"

	"verdict/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type CreateRequestBody struct {
	Category           string `json:"category"`
	Subcategory        string `json:"subcategory"`
	MediaType          string `json:"media_type"`
	MediaURL           string `json:"media_url,omitempty"`
	TextContent        string `json:"text_content,omitempty"`
	Context            string `json:"context"`
	RequestedTone      string `json:"requested_tone,omitempty"`
	TargetVerdictCount int    `json:"target_verdict_count,omitempty"`
	CreditsToCharge    int    `json:"credits_to_charge,omitempty"`
	RequestTier        string `json:"request_tier,omitempty"`
}

type SubmitVerdictBody struct {
	Rating   *int    `json:"rating,omitempty"`
	Feedback string  `json:"feedback"`
	Tone     string  `json:"tone,omitempty"`
	VoiceURL *string `json:"voice_url,omitempty"`
}

type RequestView struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Category             string    `json:"category"`
	Subcategory          string    `json:"subcategory,omitempty"`
	MediaType            string    `json:"media_type"`
	MediaURL             *string   `json:"media_url,omitempty"`
	TextContent          *string   `json:"text_content,omitempty"`
	Context              string    `json:"context,omitempty"`
	RequestedTone        string    `json:"requested_tone"`
	RequestTier          string    `json:"request_tier"`
	TargetVerdictCount   int       `json:"target_verdict_count"`
	ReceivedVerdictCount int       `json:"received_verdict_count"`
	RemainingVerdicts    int       `json:"remaining_verdicts"`
	Status               string    `json:"status"`
	CreditsCharged       int       `json:"credits_charged"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type VerdictView struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	JudgeID   string    `json:"judge_id"`
	Rating    *int      `json:"rating,omitempty"`
	Feedback  string    `json:"feedback"`
	Tone      string    `json:"tone"`
	VoiceURL  *string   `json:"voice_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type RequestDetail struct {
	Request  RequestView   `json:"request"`
	Verdicts []VerdictView `json:"verdicts,omitempty"`
}

type VerdictRecorded struct {
	Verdict VerdictView `json:"verdict"`
	Request RequestView `json:"request"`
	Closed  bool        `json:"closed"`
}

type CreditsView struct {
	UserID       string            `json:"user_id"`
	Credits      int               `json:"credits"`
	Transactions []TransactionView `json:"transactions"`
}

type TransactionView struct {
	Delta        int       `json:"delta"`
	BalanceAfter int       `json:"balance_after"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

func requestView(r domain.VerdictRequest) RequestView {
	return RequestView{
		ID:                   r.ID,
		UserID:               r.UserID,
		Category:             string(r.Category),
		Subcategory:          r.Subcategory,
		MediaType:            string(r.MediaType),
		MediaURL:             r.MediaURL,
		TextContent:          r.TextContent,
		Context:              r.Context,
		RequestedTone:        string(r.RequestedTone),
		RequestTier:          r.RequestTier,
		TargetVerdictCount:   r.TargetVerdictCount,
		ReceivedVerdictCount: r.ReceivedVerdictCount,
		RemainingVerdicts:    r.Remaining(),
		Status:               string(r.Status),
		CreditsCharged:       r.CreditsCharged,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func verdictView(v domain.VerdictResponse) VerdictView {
	return VerdictView{
		ID:        v.ID,
		RequestID: v.RequestID,
		JudgeID:   v.JudgeID,
		Rating:    v.Rating,
		Feedback:  v.Feedback,
		Tone:      string(v.Tone),
		VoiceURL:  v.VoiceURL,
		CreatedAt: v.CreatedAt,
	}
}
