// Package requests creates verdict requests against paid-for slots and
// serves them back to owners.
package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"verdict/internal/domain"
	"verdict/internal/ledger"
	"verdict/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence the request service needs.
type Store interface {
	InsertRequest(ctx context.Context, r domain.VerdictRequest) error
	GetRequest(ctx context.Context, id string) (domain.VerdictRequest, error)
	ListRequestsByOwner(ctx context.Context, userID string, limit int) ([]domain.VerdictRequest, error)
}

// Credits is the slice of the ledger request creation depends on.
type Credits interface {
	EnsureProfile(ctx context.Context, userID string) (domain.Profile, error)
	DeductFor(ctx context.Context, userID string, amount int, reason string) (ledger.Deduction, error)
	Add(ctx context.Context, userID string, amount int, reason string) (int, error)
}

// Defaults are resolved once when the service is built.
type Defaults struct {
	TargetVerdictCount int
	CreditsToCharge    int
	Tone               domain.Tone
	Tier               string
}

func DefaultDefaults() Defaults {
	return Defaults{
		TargetVerdictCount: 3,
		CreditsToCharge:    1,
		Tone:               domain.ToneHonest,
		Tier:               domain.TierCommunity,
	}
}

func (d Defaults) withFallbacks() Defaults {
	base := DefaultDefaults()
	if d.TargetVerdictCount <= 0 {
		d.TargetVerdictCount = base.TargetVerdictCount
	}
	if d.CreditsToCharge <= 0 {
		d.CreditsToCharge = base.CreditsToCharge
	}
	if !d.Tone.Valid() {
		d.Tone = base.Tone
	}
	if domain.NormalizeTier(d.Tier) == "" {
		d.Tier = base.Tier
	}
	d.Tier = domain.NormalizeTier(d.Tier)
	return d
}

// Input is a create call. Zero-valued optional fields take Defaults.
type Input struct {
	UserID             string
	Category           domain.Category
	Subcategory        string
	MediaType          domain.MediaType
	MediaURL           string
	TextContent        string
	Context            string
	RequestedTone      domain.Tone
	TargetVerdictCount int
	CreditsToCharge    int
	RequestTier        string
}

type Service struct {
	store    Store
	credits  Credits
	defaults Defaults
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(store Store, credits Credits, defaults Defaults, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		credits:  credits,
		defaults: defaults.withFallbacks(),
		logger:   logger.Named("requests"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *Service) Defaults() Defaults { return s.defaults }

// Create charges the owner and persists a new open request. If the insert
// fails after the charge, the credits are refunded before the insert error
// is returned.
func (s *Service) Create(ctx context.Context, in Input) (domain.VerdictRequest, error) {
	const op = "requests.Create"
	ctx, traceID := domain.EnsureTraceID(ctx)
	log := s.logger.With(zap.String("trace_id", traceID), zap.String("user_id", in.UserID))

	req, charge, err := s.build(in)
	if err != nil {
		log.Info("request rejected", zap.Error(err))
		return domain.VerdictRequest{}, domain.WithTrace(err, traceID)
	}
	log = log.With(zap.String("request_id", req.ID), zap.Int("credits", charge))

	if _, err := s.credits.EnsureProfile(ctx, in.UserID); err != nil {
		return domain.VerdictRequest{}, domain.WithTrace(err, traceID)
	}

	saga := &creditSaga{
		credits: s.credits,
		userID:  in.UserID,
		amount:  charge,
		log:     log,
	}
	if err := saga.reserve(ctx, "verdict request "+req.ID); err != nil {
		return domain.VerdictRequest{}, domain.WithTrace(err, traceID)
	}

	if insertErr := s.insert(ctx, req); insertErr != nil {
		wrapped := domain.E(domain.KindDatabase, op, insertErr)
		wrapped.TraceID = traceID
		if refundErr := saga.refund(ctx, "refund: request insert failed"); refundErr != nil {
			return domain.VerdictRequest{}, errors.Join(wrapped, refundErr)
		}
		return domain.VerdictRequest{}, wrapped
	}
	saga.persisted()

	log.Info("verdict request created",
		zap.String("category", string(req.Category)),
		zap.String("tier", req.RequestTier),
		zap.Int("target", req.TargetVerdictCount))
	return req, nil
}

// insert converts a panic in the store into an error so the refund path
// still runs.
func (s *Service) insert(ctx context.Context, req domain.VerdictRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("insert request panicked: %v", r)
		}
	}()
	return s.store.InsertRequest(ctx, req)
}

func (s *Service) build(in Input) (domain.VerdictRequest, int, error) {
	const op = "requests.Create"

	if strings.TrimSpace(in.UserID) == "" {
		return domain.VerdictRequest{}, 0, domain.Invalid(op, "user id is required")
	}
	if !in.Category.Valid() {
		return domain.VerdictRequest{}, 0, domain.Invalid(op, "unknown category %q", in.Category)
	}
	if !in.MediaType.Valid() {
		return domain.VerdictRequest{}, 0, domain.Invalid(op, "unknown media type %q", in.MediaType)
	}

	tone := in.RequestedTone
	if tone == "" {
		tone = s.defaults.Tone
	}
	if !tone.Valid() {
		return domain.VerdictRequest{}, 0, domain.Invalid(op, "unknown tone %q", in.RequestedTone)
	}

	target := in.TargetVerdictCount
	if target == 0 {
		target = s.defaults.TargetVerdictCount
	}
	if target < 0 {
		return domain.VerdictRequest{}, 0, domain.Invalid(op, "target verdict count must be positive, got %d", target)
	}

	charge := in.CreditsToCharge
	if charge == 0 {
		charge = s.defaults.CreditsToCharge
	}
	if charge < 0 {
		return domain.VerdictRequest{}, 0, domain.Invalid(op, "credits to charge must be positive, got %d", charge)
	}

	tier := domain.NormalizeTier(in.RequestTier)
	if tier == "" {
		tier = s.defaults.Tier
	}

	// Only the field matching the media type is kept; the other is dropped
	// whatever the caller sent.
	var mediaURL, textContent *string
	if in.MediaType.UsesURL() {
		u := strings.TrimSpace(in.MediaURL)
		if u == "" {
			return domain.VerdictRequest{}, 0, domain.Invalid(op, "media url is required for %s requests", in.MediaType)
		}
		mediaURL = &u
	} else {
		t := in.TextContent
		if strings.TrimSpace(t) == "" {
			return domain.VerdictRequest{}, 0, domain.Invalid(op, "text content is required for text requests")
		}
		textContent = &t
	}

	now := s.now()
	return domain.VerdictRequest{
		ID:                   s.newID(),
		UserID:               in.UserID,
		Category:             in.Category,
		Subcategory:          strings.TrimSpace(in.Subcategory),
		MediaType:            in.MediaType,
		MediaURL:             mediaURL,
		TextContent:          textContent,
		Context:              in.Context,
		RequestedTone:        tone,
		RequestTier:          tier,
		TargetVerdictCount:   target,
		ReceivedVerdictCount: 0,
		Status:               domain.StatusOpen,
		CreditsCharged:       charge,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, charge, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.VerdictRequest, error) {
	const op = "requests.Get"
	r, err := s.store.GetRequest(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return r, domain.E(domain.KindRequestNotFound, op, nil)
	case err != nil:
		s.logger.Error("request lookup failed", zap.String("request_id", id), zap.Error(err))
		return r, domain.E(domain.KindDatabase, op, err)
	}
	return r, nil
}

func (s *Service) ListByOwner(ctx context.Context, userID string, limit int) ([]domain.VerdictRequest, error) {
	out, err := s.store.ListRequestsByOwner(ctx, userID, limit)
	if err != nil {
		return nil, domain.E(domain.KindDatabase, "requests.ListByOwner", err)
	}
	return out, nil
}
