package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Action ids carried by the gate buttons. The button value is "<run>/<gate>".
const (
	ActionGateApprove = "devlution_gate_approve"
	ActionGateReject  = "devlution_gate_reject"
)

// SlackOption configures a Slack notifier.
type SlackOption func(*Slack)

// WithSlackBot posts through chat.postMessage with a bot token instead of the
// webhook. Gate messages then carry approve and reject buttons.
func WithSlackBot(token string) SlackOption {
	return func(s *Slack) { s.botToken = token }
}

// WithSlackAPIURL points the bot client at another API root.
func WithSlackAPIURL(url string) SlackOption {
	return func(s *Slack) { s.apiURL = url }
}

// Slack posts messages to an incoming webhook or, with a bot token, to the
// Web API.
type Slack struct {
	webhookURL     string
	defaultChannel string
	httpClient     *http.Client
	botToken       string
	apiURL         string
	bot            *slack.Client
}

func NewSlack(webhookURL, defaultChannel string, opts ...SlackOption) *Slack {
	s := &Slack{
		webhookURL:     webhookURL,
		defaultChannel: defaultChannel,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.botToken != "" {
		clientOpts := []slack.Option{slack.OptionHTTPClient(s.httpClient)}
		if s.apiURL != "" {
			clientOpts = append(clientOpts, slack.OptionAPIURL(s.apiURL))
		}
		s.bot = slack.New(s.botToken, clientOpts...)
	}
	return s
}

// Notify implements Notifier.
func (s *Slack) Notify(ctx context.Context, msg Message) error {
	channel := ParseChannel(msg.Channel).Target
	if channel == "" {
		channel = s.defaultChannel
	}
	blocks := s.blocks(msg)

	if s.bot != nil {
		_, _, err := s.bot.PostMessageContext(ctx, channel,
			slack.MsgOptionText(msg.Subject, false),
			slack.MsgOptionBlocks(blocks...),
		)
		if err != nil {
			return fmt.Errorf("slack chat.postMessage: %w", err)
		}
		return nil
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, &slack.WebhookMessage{
		Channel: channel,
		Text:    msg.Subject,
		Blocks:  &slack.Blocks{BlockSet: blocks},
	})
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func (s *Slack) blocks(msg Message) []slack.Block {
	header := "Devlution: Approval Required"
	if msg.Escalation {
		header = "Devlution: Gate Escalated"
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, msg.Text, false, false), nil, nil),
	}
	if msg.GateID == "" {
		return blocks
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("`devlution gate approve --id %s --run-id %s` or `devlution gate reject --id %s --run-id %s`",
				msg.GateID, msg.RunID, msg.GateID, msg.RunID), false, false),
	))
	if s.bot != nil {
		value := GateActionValue(msg.RunID, msg.GateID)
		blocks = append(blocks, slack.NewActionBlock("gate_"+msg.GateID,
			slack.NewButtonBlockElement(ActionGateApprove, value,
				slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false)).WithStyle(slack.StylePrimary),
			slack.NewButtonBlockElement(ActionGateReject, value,
				slack.NewTextBlockObject(slack.PlainTextType, "Reject", false, false)).WithStyle(slack.StyleDanger),
		))
	}
	return blocks
}

// GateActionValue encodes the run and gate a button resolves.
func GateActionValue(runID, gateID string) string {
	return runID + "/" + gateID
}

// ParseGateAction reverses GateActionValue.
func ParseGateAction(value string) (runID, gateID string, err error) {
	runID, gateID, ok := strings.Cut(value, "/")
	if !ok || runID == "" || gateID == "" {
		return "", "", fmt.Errorf("gate action value %q must be run/gate", value)
	}
	return runID, gateID, nil
}
