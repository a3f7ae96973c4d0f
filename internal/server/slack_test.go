package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thinkelution/devlution/internal/notify"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedSlackRequest(secret, payload string, ts time.Time) *http.Request {
	body := url.Values{"payload": {payload}}.Encode()
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", stamp, body)

	req := httptest.NewRequest(http.MethodPost, "/api/slack/interactions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func blockActionPayload(actionID, value string) string {
	return fmt.Sprintf(`{"type":"block_actions","user":{"id":"U1","name":"alice"},`+
		`"actions":[{"block_id":"gate_pre_merge","action_id":%q,"value":%q,"type":"button"}]}`, actionID, value)
}

func TestSlackInteraction_ApproveResumes(t *testing.T) {
	s, o, _ := setupTestServerWithStore(t, WithSlackSigningSecret(testSigningSecret))
	runID := parkedRun(t, o)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, signedSlackRequest(testSigningSecret,
		blockActionPayload(notify.ActionGateApprove, notify.GateActionValue(runID, "pre_merge")), time.Now()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		info, err := o.Status(runID)
		return err == nil && info.Status == pipeline.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSlackInteraction_RejectAborts(t *testing.T) {
	s, o, _ := setupTestServerWithStore(t, WithSlackSigningSecret(testSigningSecret))
	runID := parkedRun(t, o)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, signedSlackRequest(testSigningSecret,
		blockActionPayload(notify.ActionGateReject, notify.GateActionValue(runID, "pre_merge")), time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		info, err := o.Status(runID)
		return err == nil && info.Status == pipeline.StatusAborted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSlackInteraction_BadSignature(t *testing.T) {
	s, o, _ := setupTestServerWithStore(t, WithSlackSigningSecret(testSigningSecret))
	runID := parkedRun(t, o)
	payload := blockActionPayload(notify.ActionGateApprove, notify.GateActionValue(runID, "pre_merge"))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, signedSlackRequest("some-other-secret", payload, time.Now()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, signedSlackRequest(testSigningSecret, payload, time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	info, err := o.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusWaitingForHuman, info.Status)
}

func TestSlackInteraction_DisabledWithoutSecret(t *testing.T) {
	s, _ := setupTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, signedSlackRequest(testSigningSecret, blockActionPayload(notify.ActionGateApprove, "r/g"), time.Now()))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
