// Package sentry reads error events from the Sentry web API so alert
// triggers can be planned and debugged from the failure that raised them.
package sentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Thinkelution/devlution/internal/logging"
)

// DefaultBaseURL is the hosted Sentry API root.
const DefaultBaseURL = "https://sentry.io/api/0/"

// ErrNotFound is returned when Sentry has no such issue or event.
var ErrNotFound = errors.New("sentry: not found")

// Event is an error event reduced to what a failure log needs.
type Event struct {
	EventID    string            `json:"event_id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Level      string            `json:"level"`
	Platform   string            `json:"platform"`
	Culprit    string            `json:"culprit,omitempty"`
	Stacktrace []Frame           `json:"stacktrace,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Timestamp  string            `json:"timestamp,omitempty"`
}

// Frame is one stack frame, outermost first.
type Frame struct {
	Filename string `json:"filename"`
	LineNo   int    `json:"lineNo"`
	Function string `json:"function"`
}

// FailureLog renders the event as the text handed to the planner and debugger.
func (e *Event) FailureLog() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", e.Title)
	fmt.Fprintf(&b, "Level: %s\n", e.Level)
	fmt.Fprintf(&b, "Platform: %s\n", e.Platform)
	fmt.Fprintf(&b, "Message: %s", e.Message)
	if e.Culprit != "" {
		fmt.Fprintf(&b, "\nCulprit: %s", e.Culprit)
	}
	if len(e.Stacktrace) > 0 {
		b.WriteString("\nStacktrace:")
		for _, f := range e.Stacktrace {
			line := "?"
			if f.LineNo > 0 {
				line = strconv.Itoa(f.LineNo)
			}
			fmt.Fprintf(&b, "\n  %s:%s in %s", orUnknown(f.Filename), line, orUnknown(f.Function))
		}
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// Client reads events for one organization and project.
type Client struct {
	hc      *http.Client
	baseURL *url.URL
	org     string
	project string
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL points the client at a self-hosted Sentry or a test server.
// An empty url keeps DefaultBaseURL.
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		if raw == "" {
			return nil
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse sentry base url: %w", err)
		}
		c.baseURL = u
		return nil
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) error { c.logger = l.Named("sentry"); return nil }
}

// NewClient authenticates with an auth token.
func NewClient(ctx context.Context, token, org, project string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("sentry auth token not set")
	}
	if org == "" || project == "" {
		return nil, fmt.Errorf("sentry org and project are required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = 15 * time.Second

	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{hc: hc, baseURL: base, org: org, project: project, logger: logging.Nop()}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LatestEvent fetches the most recent event of an issue. issueID is the
// numeric id or the short id ("PROJ-1A") shown in the Sentry UI.
func (c *Client) LatestEvent(ctx context.Context, issueID string) (*Event, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return nil, fmt.Errorf("sentry issue id is empty")
	}
	var raw rawEvent
	path := fmt.Sprintf("organizations/%s/issues/%s/events/latest/", url.PathEscape(c.org), url.PathEscape(issueID))
	if err := c.get(ctx, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("latest event for issue %s: %w", issueID, err)
	}
	return raw.event(), nil
}

// RecentEvents lists the project's newest events.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 10
	}
	var raws []rawEvent
	path := fmt.Sprintf("projects/%s/%s/events/", url.PathEscape(c.org), url.PathEscape(c.project))
	q := url.Values{"per_page": {strconv.Itoa(limit)}, "full": {"true"}}
	if err := c.get(ctx, path, q, &raws); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	out := make([]Event, 0, len(raws))
	for i := range raws {
		out = append(out, *raws[i].event())
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	u, err := c.baseURL.Parse(path)
	if err != nil {
		return err
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn(ctx, "sentry request failed",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("sentry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode sentry response: %w", err)
	}
	return nil
}

// rawEvent mirrors the parts of Sentry's event payload that are read.
type rawEvent struct {
	EventID     string `json:"eventID"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Platform    string `json:"platform"`
	Culprit     string `json:"culprit"`
	DateCreated string `json:"dateCreated"`
	Tags        []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"tags"`
	Entries []struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"entries"`
}

type exceptionData struct {
	Values []struct {
		Type       string `json:"type"`
		Value      string `json:"value"`
		Stacktrace *struct {
			Frames []Frame `json:"frames"`
		} `json:"stacktrace"`
	} `json:"values"`
}

func (r *rawEvent) event() *Event {
	e := &Event{
		EventID:   r.EventID,
		Title:     r.Title,
		Message:   r.Message,
		Level:     "error",
		Platform:  r.Platform,
		Culprit:   r.Culprit,
		Timestamp: r.DateCreated,
	}
	if len(r.Tags) > 0 {
		e.Tags = make(map[string]string, len(r.Tags))
		for _, t := range r.Tags {
			e.Tags[t.Key] = t.Value
		}
		if lvl := e.Tags["level"]; lvl != "" {
			e.Level = lvl
		}
	}
	for _, entry := range r.Entries {
		if entry.Type != "exception" {
			continue
		}
		var ex exceptionData
		if err := json.Unmarshal(entry.Data, &ex); err != nil || len(ex.Values) == 0 {
			continue
		}
		first := ex.Values[0]
		if e.Message == "" && first.Value != "" {
			e.Message = first.Type + ": " + first.Value
		}
		if first.Stacktrace != nil {
			e.Stacktrace = first.Stacktrace.Frames
		}
	}
	return e
}
