package domain

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryAppearance Category = "appearance"
	CategoryProfile    Category = "profile"
	CategoryWriting    Category = "writing"
	CategoryDecision   Category = "decision"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAppearance, CategoryProfile, CategoryWriting, CategoryDecision:
		return true
	}
	return false
}

type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaText  MediaType = "text"
	MediaAudio MediaType = "audio"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaPhoto, MediaText, MediaAudio:
		return true
	}
	return false
}

// UsesURL reports whether content of this type lives behind media_url
// rather than text_content.
func (m MediaType) UsesURL() bool {
	return m == MediaPhoto || m == MediaAudio
}

type Tone string

const (
	ToneEncouraging    Tone = "encouraging"
	ToneHonest         Tone = "honest"
	ToneBrutallyHonest Tone = "brutally_honest"
)

func (t Tone) Valid() bool {
	switch t {
	case ToneEncouraging, ToneHonest, ToneBrutallyHonest:
		return true
	}
	return false
}

type RequestStatus string

const (
	StatusOpen       RequestStatus = "open"
	StatusInProgress RequestStatus = "in_progress"
	StatusClosed     RequestStatus = "closed"
	StatusCancelled  RequestStatus = "cancelled"
)

// AcceptsVerdicts is true for open and in_progress; both behave the same.
func (s RequestStatus) AcceptsVerdicts() bool {
	return s == StatusOpen || s == StatusInProgress
}

const (
	TierCommunity = "community"
	TierStandard  = "standard"
	TierPro       = "pro"
)

// NormalizeTier lowercases and trims a tier label. Tiers are free labels;
// only a few carry behaviour.
func NormalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

type Profile struct {
	UserID           string
	DisplayName      string
	Email            string
	Credits          int
	IsJudge          bool
	JudgeQualifiedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type VerdictRequest struct {
	ID                   string
	UserID               string
	Category             Category
	Subcategory          string
	MediaType            MediaType
	MediaURL             *string // set only for photo/audio
	TextContent          *string // set only for text
	Context              string
	RequestedTone        Tone
	RequestTier          string
	TargetVerdictCount   int
	ReceivedVerdictCount int
	Status               RequestStatus
	CreditsCharged       int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Remaining is the number of verdicts still needed to close the request.
func (r VerdictRequest) Remaining() int {
	if r.ReceivedVerdictCount >= r.TargetVerdictCount {
		return 0
	}
	return r.TargetVerdictCount - r.ReceivedVerdictCount
}

type VerdictResponse struct {
	ID        string
	RequestID string
	JudgeID   string
	Rating    *int
	Feedback  string
	Tone      Tone
	VoiceURL  *string
	CreatedAt time.Time
}

type CreditTransaction struct {
	ID           string
	UserID       string
	Delta        int
	BalanceAfter int
	Reason       string
	CreatedAt    time.Time
}
