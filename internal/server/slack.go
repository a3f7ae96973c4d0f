package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/notify"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

// WithSlackSigningSecret enables POST /api/slack/interactions, which turns
// gate button clicks into decisions. Requests must carry a valid Slack
// signature for secret.
func WithSlackSigningSecret(secret string) Option {
	return func(s *Server) { s.slackSecret = secret }
}

var slackActionDecisions = map[string]string{
	notify.ActionGateApprove: string(pipeline.DecisionApproved),
	notify.ActionGateReject:  string(pipeline.DecisionRejected),
}

// handleSlackInteraction acknowledges at once and applies decisions in the
// background; Slack retries anything slower than three seconds.
func (s *Server) handleSlackInteraction(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	sv, err := slack.NewSecretsVerifier(req.Header, s.slackSecret)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing slack signature")
	}
	if _, err := sv.Write(body); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "bad slack signature")
	}
	if err := sv.Ensure(); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "bad slack signature")
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form body")
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(form.Get("payload")), &cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid interaction payload")
	}
	if cb.Type != slack.InteractionTypeBlockActions {
		return c.NoContent(http.StatusOK)
	}

	approver := cb.User.Name
	if approver == "" {
		approver = cb.User.ID
	}
	ctx := context.WithoutCancel(req.Context())
	for _, action := range cb.ActionCallback.BlockActions {
		decision, ok := slackActionDecisions[action.ActionID]
		if !ok {
			continue
		}
		runID, gateID, err := notify.ParseGateAction(action.Value)
		if err != nil {
			s.logger.Warn(ctx, "slack action ignored", zap.String("value", action.Value), zap.Error(err))
			continue
		}
		go s.applySlackDecision(ctx, runID, gateID, decision, approver)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) applySlackDecision(ctx context.Context, runID, gateID, decision, approver string) {
	if _, err := s.svc.SubmitGate(ctx, runID, gateID, decision, approver, "via slack"); err != nil {
		s.logger.Warn(ctx, "slack gate decision failed",
			zap.String("run_id", runID),
			zap.String("gate_id", gateID),
			zap.String("decision", decision),
			zap.Error(err))
		return
	}
	s.logger.Info(ctx, "slack gate decision applied",
		zap.String("run_id", runID),
		zap.String("gate_id", gateID),
		zap.String("decision", decision),
		zap.String("approver", approver))
}
