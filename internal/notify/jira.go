package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jira "github.com/andygrunwald/go-jira"
)

var issueKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]+-[0-9]+$`)

// JiraOption configures a Jira notifier.
type JiraOption func(*Jira)

// WithJiraIssueType sets the type of tickets created for runs. Default "Task".
func WithJiraIssueType(name string) JiraOption {
	return func(j *Jira) {
		if name != "" {
			j.issueType = name
		}
	}
}

// WithJiraTransition moves a run's ticket to the named status whenever a
// gate message is posted to it.
func WithJiraTransition(name string) JiraOption {
	return func(j *Jira) { j.transition = name }
}

// Jira keeps one ticket per run. "jira:PROJ" finds or opens the run's
// ticket in project PROJ and comments on it; "jira:PROJ-12" comments on an
// existing ticket.
type Jira struct {
	client     *jira.Client
	project    string
	issueType  string
	transition string
}

// NewJira authenticates with an account email and API token.
func NewJira(baseURL, user, token, defaultProject string, opts ...JiraOption) (*Jira, error) {
	tp := jira.BasicAuthTransport{Username: user, Password: token}
	client, err := jira.NewClient(tp.Client(), baseURL)
	if err != nil {
		return nil, fmt.Errorf("jira client: %w", err)
	}
	j := &Jira{client: client, project: defaultProject, issueType: "Task"}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// RunLabel tags the ticket that tracks a run.
func RunLabel(runID string) string {
	return "devlution-" + runID
}

func (j *Jira) Notify(ctx context.Context, msg Message) error {
	target := ParseChannel(msg.Channel).Target
	if target == "" {
		target = j.project
	}
	if target == "" {
		return fmt.Errorf("jira channel %q names no project", msg.Channel)
	}

	key := target
	if !issueKeyRe.MatchString(target) {
		var err error
		if key, err = j.runTicket(ctx, target, msg); err != nil {
			return err
		}
	}

	body := fmt.Sprintf("*%s*\n\n%s", msg.Subject, msg.Text)
	if msg.GateID != "" {
		body += fmt.Sprintf("\n\nResolve with {{devlution gate approve --id %s --run-id %s}}.", msg.GateID, msg.RunID)
	}
	if _, _, err := j.client.Issue.AddCommentWithContext(ctx, key, &jira.Comment{Body: body}); err != nil {
		return fmt.Errorf("jira comment on %s: %w", key, err)
	}
	if j.transition != "" && msg.GateID != "" {
		if err := j.Transition(ctx, key, j.transition); err != nil {
			return err
		}
	}
	return nil
}

// runTicket returns the key of the run's ticket in project, creating it on
// first use.
func (j *Jira) runTicket(ctx context.Context, project string, msg Message) (string, error) {
	label := RunLabel(msg.RunID)
	jql := fmt.Sprintf(`project = "%s" AND labels = "%s" ORDER BY created ASC`, project, label)
	found, _, err := j.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{MaxResults: 1, Fields: []string{"key"}})
	if err != nil {
		return "", fmt.Errorf("jira search: %w", err)
	}
	if len(found) > 0 {
		return found[0].Key, nil
	}

	summary := "devlution run " + msg.RunID
	if msg.Subject != "" {
		summary = fmt.Sprintf("%s (run %s)", msg.Subject, msg.RunID)
	}
	created, _, err := j.client.Issue.CreateWithContext(ctx, &jira.Issue{
		Fields: &jira.IssueFields{
			Project:     jira.Project{Key: project},
			Type:        jira.IssueType{Name: j.issueType},
			Summary:     summary,
			Description: msg.Text,
			Labels:      []string{label, "devlution"},
		},
	})
	if err != nil {
		return "", fmt.Errorf("jira create ticket in %s: %w", project, err)
	}
	return created.Key, nil
}

// Transition moves a ticket to the status whose transition is named name,
// ignoring case. A missing transition is an error.
func (j *Jira) Transition(ctx context.Context, key, name string) error {
	transitions, _, err := j.client.Issue.GetTransitionsWithContext(ctx, key)
	if err != nil {
		return fmt.Errorf("jira transitions for %s: %w", key, err)
	}
	for _, t := range transitions {
		if strings.EqualFold(t.Name, name) {
			if _, err := j.client.Issue.DoTransitionWithContext(ctx, key, t.ID); err != nil {
				return fmt.Errorf("jira transition %s to %q: %w", key, name, err)
			}
			return nil
		}
	}
	return fmt.Errorf("jira ticket %s has no transition %q", key, name)
}
