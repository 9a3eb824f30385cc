// Package api exposes the request lifecycle as an API Gateway (Lambda
// proxy) handler with bearer-token auth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"verdict/internal/consensus"
	"verdict/internal/domain"
	"verdict/internal/judging"
	"verdict/internal/ledger"
	"verdict/internal/requests"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// Notifier receives lifecycle events after the core has committed them.
type Notifier interface {
	RequestClosed(ctx context.Context, req domain.VerdictRequest) error
	ConsensusReady(ctx context.Context, req domain.VerdictRequest, result domain.ConsensusResult) error
}

type Deps struct {
	Requests    *requests.Service
	Recorder    *judging.Recorder
	Ledger      *ledger.Ledger
	Synthesizer *consensus.Synthesizer
	Notifier    Notifier
	Auth        *Authenticator
	Logger      *zap.Logger
}

type Handler struct {
	requests *requests.Service
	recorder *judging.Recorder
	ledger   *ledger.Ledger
	synth    *consensus.Synthesizer
	notifier Notifier
	auth     *Authenticator
	logger   *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		requests: d.Requests,
		recorder: d.Recorder,
		ledger:   d.Ledger,
		synth:    d.Synthesizer,
		notifier: d.Notifier,
		auth:     d.Auth,
		logger:   logger.Named("api"),
	}
}

// Handle routes one API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	traceID := request.RequestContext.RequestID
	if traceID != "" {
		ctx = domain.WithTraceID(ctx, traceID)
	}
	ctx, traceID = domain.EnsureTraceID(ctx)
	log := h.logger.With(zap.String("trace_id", traceID),
		zap.String("method", request.HTTPMethod), zap.String("path", request.Path))

	userID, err := h.auth.ValidateToken(header(request.Headers, "Authorization"))
	if err != nil {
		log.Info("unauthorized request", zap.Error(err))
		return createErrorResponse(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing authentication token", "", traceID), nil
	}
	log = log.With(zap.String("user_id", userID))

	segments := strings.Split(strings.Trim(request.Path, "/"), "/")
	method := strings.ToUpper(request.HTTPMethod)

	var resp events.APIGatewayProxyResponse
	switch {
	case method == http.MethodPost && len(segments) == 1 && segments[0] == "requests":
		resp = h.createRequest(ctx, log, userID, request.Body)
	case method == http.MethodGet && len(segments) == 2 && segments[0] == "requests":
		resp = h.getRequest(ctx, log, userID, segments[1])
	case method == http.MethodPost && len(segments) == 3 && segments[0] == "requests" && segments[2] == "verdicts":
		resp = h.submitVerdict(ctx, log, userID, segments[1], request.Body)
	case method == http.MethodGet && len(segments) == 3 && segments[0] == "requests" && segments[2] == "consensus":
		resp = h.getConsensus(ctx, log, userID, segments[1])
	case method == http.MethodGet && len(segments) == 2 && segments[0] == "me" && segments[1] == "credits":
		resp = h.getCredits(ctx, log, userID)
	default:
		resp = createErrorResponse(http.StatusNotFound, "NOT_FOUND", "Route not found", method+" "+request.Path, traceID)
	}
	log.Info("request handled", zap.Int("status", resp.StatusCode))
	return resp, nil
}

func (h *Handler) createRequest(ctx context.Context, log *zap.Logger, userID, body string) events.APIGatewayProxyResponse {
	var in CreateRequestBody
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return createErrorResponse(http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON in request body", err.Error(), traceOf(ctx))
	}

	req, err := h.requests.Create(ctx, requests.Input{
		UserID:             userID,
		Category:           domain.Category(in.Category),
		Subcategory:        in.Subcategory,
		MediaType:          domain.MediaType(in.MediaType),
		MediaURL:           in.MediaURL,
		TextContent:        in.TextContent,
		Context:            in.Context,
		RequestedTone:      domain.Tone(in.RequestedTone),
		TargetVerdictCount: in.TargetVerdictCount,
		CreditsToCharge:    in.CreditsToCharge,
		RequestTier:        in.RequestTier,
	})
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	return createJSONResponse(http.StatusCreated, requestView(req))
}

// getRequest shows a request to anyone signed in so judges can answer it.
// Only the owner sees the verdicts.
func (h *Handler) getRequest(ctx context.Context, log *zap.Logger, userID, requestID string) events.APIGatewayProxyResponse {
	req, err := h.requests.Get(ctx, requestID)
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	detail := RequestDetail{Request: requestView(req)}
	if req.UserID == userID {
		verdicts, err := h.recorder.ListForRequest(ctx, requestID)
		if err != nil {
			return h.errorResponse(ctx, log, err)
		}
		for _, v := range verdicts {
			detail.Verdicts = append(detail.Verdicts, verdictView(v))
		}
	}
	return createJSONResponse(http.StatusOK, detail)
}

func (h *Handler) submitVerdict(ctx context.Context, log *zap.Logger, userID, requestID, body string) events.APIGatewayProxyResponse {
	var in SubmitVerdictBody
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return createErrorResponse(http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON in request body", err.Error(), traceOf(ctx))
	}

	res, err := h.recorder.Record(ctx, judging.Submission{
		RequestID: requestID,
		JudgeID:   userID,
		Rating:    in.Rating,
		Feedback:  in.Feedback,
		Tone:      domain.Tone(in.Tone),
		VoiceURL:  in.VoiceURL,
	})
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}

	if res.Closed() && h.notifier != nil {
		if nerr := h.notifier.RequestClosed(ctx, res.Request); nerr != nil {
			log.Warn("closure notification failed", zap.String("request_id", requestID), zap.Error(nerr))
		}
	}
	return createJSONResponse(http.StatusCreated, VerdictRecorded{
		Verdict: verdictView(res.Verdict),
		Request: requestView(res.Request),
		Closed:  res.Closed(),
	})
}

func (h *Handler) getConsensus(ctx context.Context, log *zap.Logger, userID, requestID string) events.APIGatewayProxyResponse {
	req, err := h.requests.Get(ctx, requestID)
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	if req.UserID != userID {
		return h.errorResponse(ctx, log, domain.E(domain.KindRequestNotFound, "api.getConsensus", nil))
	}
	if req.RequestTier != domain.TierPro {
		return h.errorResponse(ctx, log, domain.Invalid("api.getConsensus", "consensus analysis is only available on the pro tier"))
	}

	verdicts, err := h.recorder.ListForRequest(ctx, requestID)
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	if !consensus.ShouldSynthesize(req.RequestTier, len(verdicts)) {
		return h.errorResponse(ctx, log, domain.E(domain.KindInsufficientVerdicts, "api.getConsensus", nil))
	}

	result, err := h.synth.Synthesize(ctx, verdicts, req.Context, req.Category)
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	if h.notifier != nil {
		if nerr := h.notifier.ConsensusReady(ctx, req, result); nerr != nil {
			log.Warn("consensus notification failed", zap.String("request_id", requestID), zap.Error(nerr))
		}
	}
	return createJSONResponse(http.StatusOK, result)
}

func (h *Handler) getCredits(ctx context.Context, log *zap.Logger, userID string) events.APIGatewayProxyResponse {
	p, err := h.ledger.EnsureProfile(ctx, userID)
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	txs, err := h.ledger.History(ctx, userID, 20)
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	view := CreditsView{UserID: p.UserID, Credits: p.Credits, Transactions: []TransactionView{}}
	for _, tx := range txs {
		view.Transactions = append(view.Transactions, TransactionView{
			Delta: tx.Delta, BalanceAfter: tx.BalanceAfter, Reason: tx.Reason, CreatedAt: tx.CreatedAt,
		})
	}
	return createJSONResponse(http.StatusOK, view)
}

// errorResponse maps a domain error to a status code. Infrastructure
// failures get a generic message; the cause stays in the logs.
func (h *Handler) errorResponse(ctx context.Context, log *zap.Logger, err error) events.APIGatewayProxyResponse {
	traceID := traceOf(ctx)
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Error("unclassified error", zap.Error(err))
		return createErrorResponse(http.StatusInternalServerError, "INTERNAL", "Something went wrong. Please try again.", "", traceID)
	}
	if de.TraceID != "" {
		traceID = de.TraceID
	}

	status := statusForKind(de.Kind)
	if status >= 500 {
		log.Error("request failed", zap.String("kind", string(de.Kind)), zap.Error(err))
	} else {
		log.Info("request refused", zap.String("kind", string(de.Kind)))
	}
	return createErrorResponse(status, strings.ToUpper(string(de.Kind)), de.PublicMessage(), "", traceID)
}

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindInvalidInput, domain.KindInsufficientVerdicts:
		return http.StatusUnprocessableEntity
	case domain.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case domain.KindCannotJudgeOwnRequest:
		return http.StatusForbidden
	case domain.KindProfileNotFound, domain.KindRequestNotFound:
		return http.StatusNotFound
	case domain.KindRequestClosed, domain.KindAlreadyResponded:
		return http.StatusConflict
	case domain.KindSynthesisTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func traceOf(ctx context.Context) string {
	id, _ := domain.TraceIDFrom(ctx)
	return id
}

func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func createErrorResponse(statusCode int, code, message, details, traceID string) events.APIGatewayProxyResponse {
	return createJSONResponse(statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
		TraceID: traceID,
	})
}

func createJSONResponse(statusCode int, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		statusCode = http.StatusInternalServerError
		body = []byte(`{"error":"Failed to serialize response","code":"SERIALIZATION_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(body),
	}
}
