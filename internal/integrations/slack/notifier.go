// Package slack posts request lifecycle events to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"verdict/internal/domain"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Notifier posts to one channel. A Notifier built without a token is
// disabled and every method is a no-op.
type Notifier struct {
	api     *slack.Client
	channel string
	logger  *zap.Logger
}

func NewNotifier(token, channelID string, httpClient *http.Client, logger *zap.Logger, opts ...slack.Option) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{channel: channelID, logger: logger.Named("slack")}
	if token == "" || channelID == "" {
		return n
	}
	if httpClient != nil {
		opts = append([]slack.Option{slack.OptionHTTPClient(httpClient)}, opts...)
	}
	n.api = slack.New(token, opts...)
	return n
}

func (n *Notifier) Enabled() bool { return n != nil && n.api != nil }

func (n *Notifier) RequestClosed(ctx context.Context, req domain.VerdictRequest) error {
	text := fmt.Sprintf(":white_check_mark: Request `%s` (%s) closed with %d/%d verdicts.",
		req.ID, req.Category, req.ReceivedVerdictCount, req.TargetVerdictCount)
	return n.post(ctx, text)
}

func (n *Notifier) ConsensusReady(ctx context.Context, req domain.VerdictRequest, result domain.ConsensusResult) error {
	header := fmt.Sprintf("*Consensus ready* for request `%s` (%s)\nAgreement: *%s* · confidence %.0f%%",
		req.ID, req.Category, result.AgreementLevel, result.ConfidenceScore*100)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, result.Summary, false, false), nil, nil),
	}
	if len(result.Recommendations) > 0 {
		var b strings.Builder
		for i, r := range result.Recommendations {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "• %s (%d expert(s))\n", r.Text, r.ExpertSupport)
		}
		blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, b.String(), false, false)))
	}
	return n.postBlocks(ctx, header, blocks)
}

func (n *Notifier) ReconcileSummary(ctx context.Context, summary string) error {
	return n.post(ctx, "Verdict count reconcile: "+summary)
}

func (n *Notifier) post(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("slack post failed", zap.String("channel", n.channel), zap.Error(err))
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}

func (n *Notifier) postBlocks(ctx context.Context, fallback string, blocks []slack.Block) error {
	if !n.Enabled() {
		return nil
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...))
	if err != nil {
		n.logger.Warn("slack post failed", zap.String("channel", n.channel), zap.Error(err))
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}
