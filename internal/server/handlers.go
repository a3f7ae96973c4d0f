package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/engine"
	"github.com/Thinkelution/devlution/internal/gate"
	"github.com/Thinkelution/devlution/internal/orchestrator"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GateRequest is the body of POST /api/runs/:id/gates/:gate.
type GateRequest struct {
	Decision string `json:"decision"`
	Approver string `json:"approver"`
	Reason   string `json:"reason"`
}

// GateResponse reports a submitted decision and, if the run resumed, where
// it came to rest.
type GateResponse struct {
	RunID    string                `json:"run_id"`
	GateID   string                `json:"gate_id"`
	Decision string                `json:"decision"`
	Resumed  bool                  `json:"resumed"`
	Run      *orchestrator.RunInfo `json:"run,omitempty"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound), errors.Is(err, gate.ErrUnknownGate):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrRunBusy), errors.Is(err, pipeline.ErrGateAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotResumable), errors.Is(err, pipeline.ErrInvalidDecision):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg = toString(he.Message); msg == "" {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	if err := c.JSON(code, ErrorResponse{Error: msg}); err != nil {
		s.logger.Warn(c.Request().Context(), "write error response", zap.Error(err))
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return ""
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(c echo.Context) error {
	filter := pipeline.Status(c.QueryParam("status"))
	if filter != "" && !filter.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+strconv.Quote(string(filter)))
	}
	runs, err := s.svc.StatusAll(filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c echo.Context) error {
	info, err := s.svc.Status(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleRunAudit(c echo.Context) error {
	runID := c.Param("id")
	if _, err := s.svc.Status(runID); err != nil {
		return err
	}
	opts := audit.ReadOpts{RunID: runID}
	if last := c.QueryParam("last"); last != "" {
		n, err := strconv.Atoi(last)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "last must be a non-negative integer")
		}
		opts.LastN = n
	}
	entries, err := s.svc.Audit(opts)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// decisionAliases lets callers use the CLI verbs.
var decisionAliases = map[string]string{
	"approve": string(pipeline.DecisionApproved),
	"reject":  string(pipeline.DecisionRejected),
}

func (s *Server) handleGateDecision(c echo.Context) error {
	var req GateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if alias, ok := decisionAliases[decision]; ok {
		decision = alias
	}
	if decision == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "decision is required")
	}
	if req.Approver == "" {
		req.Approver = "api"
	}

	runID, gateID := c.Param("id"), c.Param("gate")
	// The resumed run outlives the request.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := s.svc.SubmitGate(ctx, runID, gateID, decision, req.Approver, req.Reason)
	if err != nil {
		return err
	}
	info, err := s.svc.Status(runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GateResponse{
		RunID:    runID,
		GateID:   gateID,
		Decision: decision,
		Resumed:  res != nil,
		Run:      info,
	})
}
