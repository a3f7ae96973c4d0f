package sentry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const latestEventJSON = `{
	"eventID": "9fac2ceed9344f2bbfdd1fdacb0ed9b1",
	"title": "ZeroDivisionError: division by zero",
	"message": "",
	"platform": "python",
	"culprit": "billing.invoice in total",
	"dateCreated": "2026-03-01T10:00:00Z",
	"tags": [{"key": "level", "value": "fatal"}, {"key": "environment", "value": "prod"}],
	"entries": [
		{"type": "breadcrumbs", "data": {"values": []}},
		{"type": "exception", "data": {"values": [{
			"type": "ZeroDivisionError",
			"value": "division by zero",
			"stacktrace": {"frames": [
				{"filename": "billing/invoice.py", "lineNo": 42, "function": "total"},
				{"filename": "billing/tax.py", "function": "rate"}
			]}
		}]}}
	]
}`

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), "sntrys_test", "acme", "billing", WithBaseURL(srv.URL+"/api/0"))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(context.Background(), "", "acme", "billing")
	assert.Error(t, err)
	_, err = NewClient(context.Background(), "tok", "", "billing")
	assert.Error(t, err)
	_, err = NewClient(context.Background(), "tok", "acme", "billing", WithBaseURL("://bad"))
	assert.Error(t, err)
}

func TestLatestEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/0/organizations/acme/issues/BILLING-1A/events/latest/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sntrys_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, latestEventJSON)
	})
	c := newTestClient(t, mux)

	ev, err := c.LatestEvent(context.Background(), "BILLING-1A")
	require.NoError(t, err)
	assert.Equal(t, "9fac2ceed9344f2bbfdd1fdacb0ed9b1", ev.EventID)
	assert.Equal(t, "fatal", ev.Level)
	assert.Equal(t, "ZeroDivisionError: division by zero", ev.Message)
	assert.Equal(t, "prod", ev.Tags["environment"])
	require.Len(t, ev.Stacktrace, 2)
	assert.Equal(t, Frame{Filename: "billing/invoice.py", LineNo: 42, Function: "total"}, ev.Stacktrace[0])

	want := "Error: ZeroDivisionError: division by zero\n" +
		"Level: fatal\n" +
		"Platform: python\n" +
		"Message: ZeroDivisionError: division by zero\n" +
		"Culprit: billing.invoice in total\n" +
		"Stacktrace:\n" +
		"  billing/invoice.py:42 in total\n" +
		"  billing/tax.py:? in rate"
	assert.Equal(t, want, ev.FailureLog())
}

func TestLatestEvent_NotFound(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	_, err := c.LatestEvent(context.Background(), "404")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.LatestEvent(context.Background(), " ")
	assert.Error(t, err)
}

func TestLatestEvent_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/0/organizations/acme/issues/7/events/latest/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"detail":"You do not have permission"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.LatestEvent(context.Background(), "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "permission")
}

func TestRecentEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/0/projects/acme/billing/events/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[`+latestEventJSON+`, {"eventID": "b", "title": "timeout", "message": "upstream timed out"}]`)
	})
	c := newTestClient(t, mux)

	events, err := c.RecentEvents(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "fatal", events[0].Level)
	assert.Equal(t, "error", events[1].Level)
	assert.Equal(t, "Error: timeout\nLevel: error\nPlatform: \nMessage: upstream timed out", events[1].FailureLog())
}
