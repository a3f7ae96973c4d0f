// Package github talks to GitHub for issue triggers, pull requests and gate
// notifications. Two backends exist: the gh CLI and the REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Host is the GitHub surface the pipeline needs.
type Host interface {
	GetIssue(ctx context.Context, number int) (*Issue, error)
	CreatePR(ctx context.Context, opts PRCreateOpts) (*PRCreateResult, error)
	FindPRByBranch(ctx context.Context, branch string) (*PRCreateResult, error)
	AddLabels(ctx context.Context, number int, labels []string) error
}

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs gh commands via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// RunGit implements GitRunner using exec.Command.
func (r *ExecRunner) RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client provides GitHub operations through the gh CLI.
type Client struct {
	cmd  CmdRunner
	repo string
}

// NewClient creates a gh-backed client. repo ("owner/name") is passed as
// --repo when set; otherwise gh infers it from the working directory.
func NewClient(cmd CmdRunner, repo string) *Client {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	return &Client{cmd: cmd, repo: repo}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.repo != "" {
		args = append(args, "--repo", c.repo)
	}
	return c.cmd.Run(ctx, args...)
}

// Issue represents a GitHub issue.
type Issue struct {
	Number             int        `json:"number"`
	Title              string     `json:"title"`
	Body               string     `json:"body"`
	State              string     `json:"state"`
	Labels             []Label    `json:"labels"`
	Milestone          *Milestone `json:"milestone,omitempty"`
	AcceptanceCriteria string     `json:"acceptance_criteria,omitempty"`
}

// LabelNames returns the label names in order.
func (i *Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// Label represents a GitHub label.
type Label struct {
	Name string `json:"name"`
}

// Milestone represents a GitHub milestone.
type Milestone struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ValidateIssueNumber checks that an issue number is positive.
func ValidateIssueNumber(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid issue number %d: must be positive", n)
	}
	return nil
}

// ParseIssueRef accepts "42", "#42" or "owner/repo#42" and returns the number.
func ParseIssueRef(ref string) (int, error) {
	s := ref
	if i := strings.LastIndex(s, "#"); i >= 0 {
		s = s[i+1:]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid issue reference %q", ref)
	}
	return n, ValidateIssueNumber(n)
}

// SplitRepo splits "owner/name".
func SplitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q: want owner/name", repo)
	}
	return owner, name, nil
}

// GetIssue fetches a GitHub issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	if err := ValidateIssueNumber(number); err != nil {
		return nil, err
	}

	out, err := c.run(ctx, "issue", "view", strconv.Itoa(number), "--json", "number,title,body,state,labels,milestone")
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal([]byte(out), &issue); err != nil {
		return nil, fmt.Errorf("parse issue JSON: %w", err)
	}

	issue.AcceptanceCriteria = extractAcceptanceCriteria(issue.Body)
	return &issue, nil
}

// PRCreateOpts holds options for creating a PR.
type PRCreateOpts struct {
	Title  string
	Body   string
	Branch string
	Base   string
	Labels []string
}

// PRCreateResult holds the result of creating a PR.
type PRCreateResult struct {
	URL    string
	Number int
}

var prNumberRe = regexp.MustCompile(`/pull/(\d+)`)

func prNumber(url string) int {
	m := prNumberRe.FindStringSubmatch(url)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// CreatePR creates a pull request.
func (c *Client) CreatePR(ctx context.Context, opts PRCreateOpts) (*PRCreateResult, error) {
	if strings.HasPrefix(opts.Branch, "-") {
		return nil, fmt.Errorf("invalid branch name %q: must not start with -", opts.Branch)
	}
	args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body, "--head", opts.Branch}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	for _, l := range opts.Labels {
		args = append(args, "--label", l)
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}

	return &PRCreateResult{URL: out, Number: prNumber(out)}, nil
}

// FindPRByBranch checks if a PR already exists for a given branch.
// Returns the PR result if found, nil if none exist.
func (c *Client) FindPRByBranch(ctx context.Context, branch string) (*PRCreateResult, error) {
	out, err := c.run(ctx, "pr", "list", "--head", branch, "--json", "url,number", "--limit", "1")
	if err != nil {
		return nil, fmt.Errorf("find PR by branch: %w", err)
	}

	var prs []struct {
		URL    string `json:"url"`
		Number int    `json:"number"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PR list JSON: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &PRCreateResult{URL: prs[0].URL, Number: prs[0].Number}, nil
}

// AddLabels labels an issue or pull request.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	if err := ValidateIssueNumber(number); err != nil {
		return err
	}
	if _, err := c.run(ctx, "issue", "edit", strconv.Itoa(number), "--add-label", strings.Join(labels, ",")); err != nil {
		return fmt.Errorf("add labels to #%d: %w", number, err)
	}
	return nil
}

// CommentIssue posts a comment. owner and repo override the client's repo.
func (c *Client) CommentIssue(ctx context.Context, owner, repo string, number int, body string) error {
	if err := ValidateIssueNumber(number); err != nil {
		return err
	}
	args := []string{"issue", "comment", strconv.Itoa(number), "--body", body}
	if owner != "" && repo != "" {
		args = append(args, "--repo", owner+"/"+repo)
		_, err := c.cmd.Run(ctx, args...)
		if err != nil {
			return fmt.Errorf("comment on #%d: %w", number, err)
		}
		return nil
	}
	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("comment on #%d: %w", number, err)
	}
	return nil
}

var acHeaderRe = regexp.MustCompile(`(?mi)^##\s+acceptance\s+criteria`)
var checkboxRe = regexp.MustCompile(`(?m)^\s*[-*]\s+\[[ xX]\]\s+(.+)$`)
var nextHeaderRe = regexp.MustCompile(`(?m)^##\s+`)

// extractAcceptanceCriteria parses acceptance criteria from an issue body.
// It looks for "## Acceptance Criteria" header or checkbox lists.
func extractAcceptanceCriteria(body string) string {
	loc := acHeaderRe.FindStringIndex(body)
	if loc != nil {
		section := body[loc[1]:]
		nextLoc := nextHeaderRe.FindStringIndex(section)
		if nextLoc != nil {
			section = section[:nextLoc[0]]
		}
		return strings.TrimSpace(section)
	}

	matches := checkboxRe.FindAllStringSubmatch(body, -1)
	if len(matches) > 0 {
		var criteria []string
		for _, m := range matches {
			criteria = append(criteria, "- "+m[1])
		}
		return strings.Join(criteria, "\n")
	}

	return ""
}
