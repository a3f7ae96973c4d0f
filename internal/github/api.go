package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/Thinkelution/devlution/internal/logging"
)

// APIClient talks to the GitHub REST API for one repository.
type APIClient struct {
	client *gh.Client
	owner  string
	repo   string
	retry  RetryConfig
	logger *logging.Logger
}

// APIOption configures an APIClient.
type APIOption func(*APIClient) error

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) APIOption {
	return func(c *APIClient) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse base url: %w", err)
		}
		c.client.BaseURL = u
		return nil
	}
}

func WithRetry(cfg RetryConfig) APIOption {
	return func(c *APIClient) error { c.retry = cfg; return nil }
}

func WithAPILogger(l *logging.Logger) APIOption {
	return func(c *APIClient) error { c.logger = l.Named("github"); return nil }
}

// NewAPIClient authenticates with token against repo ("owner/name").
func NewAPIClient(ctx context.Context, token, repo string, opts ...APIOption) (*APIClient, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token not set")
	}
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return newAPIClient(oauth2.NewClient(ctx, ts), owner, name, opts...)
}

func newAPIClient(hc *http.Client, owner, repo string, opts ...APIOption) (*APIClient, error) {
	c := &APIClient{
		client: gh.NewClient(hc),
		owner:  owner,
		repo:   repo,
		retry:  DefaultRetryConfig(),
		logger: logging.Nop(),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Repo returns "owner/name".
func (c *APIClient) Repo() string {
	return c.owner + "/" + c.repo
}

// GetIssue fetches an issue by number.
func (c *APIClient) GetIssue(ctx context.Context, number int) (*Issue, error) {
	if err := ValidateIssueNumber(number); err != nil {
		return nil, err
	}
	var is *gh.Issue
	_, err := retry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		is, resp, err = c.client.Issues.Get(ctx, c.owner, c.repo, number)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", number, err)
	}

	issue := &Issue{
		Number: is.GetNumber(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
		State:  strings.ToUpper(is.GetState()),
	}
	for _, l := range is.Labels {
		issue.Labels = append(issue.Labels, Label{Name: l.GetName()})
	}
	if m := is.Milestone; m != nil {
		issue.Milestone = &Milestone{Number: m.GetNumber(), Title: m.GetTitle(), Description: m.GetDescription()}
	}
	issue.AcceptanceCriteria = extractAcceptanceCriteria(issue.Body)
	return issue, nil
}

// CreatePR opens a pull request and applies opts.Labels to it.
func (c *APIClient) CreatePR(ctx context.Context, opts PRCreateOpts) (*PRCreateResult, error) {
	if err := validBranch(opts.Branch); err != nil {
		return nil, err
	}
	base := opts.Base
	if base == "" {
		base = "main"
	}
	req := &gh.NewPullRequest{
		Title: &opts.Title,
		Head:  &opts.Branch,
		Base:  &base,
		Body:  &opts.Body,
	}
	var pr *gh.PullRequest
	_, err := retry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		pr, resp, err = c.client.PullRequests.Create(ctx, c.owner, c.repo, req)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	res := &PRCreateResult{URL: pr.GetHTMLURL(), Number: pr.GetNumber()}
	if err := c.AddLabels(ctx, res.Number, opts.Labels); err != nil {
		return res, err
	}
	return res, nil
}

// FindPRByBranch returns the open PR for branch, or nil.
func (c *APIClient) FindPRByBranch(ctx context.Context, branch string) (*PRCreateResult, error) {
	var prs []*gh.PullRequest
	_, err := retry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		prs, resp, err = c.client.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
			State:       "open",
			Head:        c.owner + ":" + branch,
			ListOptions: gh.ListOptions{PerPage: 1},
		})
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("find PR by branch: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &PRCreateResult{URL: prs[0].GetHTMLURL(), Number: prs[0].GetNumber()}, nil
}

// AddLabels labels an issue or pull request.
func (c *APIClient) AddLabels(ctx context.Context, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	if err := ValidateIssueNumber(number); err != nil {
		return err
	}
	_, err := retry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
		_, resp, err := c.client.Issues.AddLabelsToIssue(ctx, c.owner, c.repo, number, labels)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("add labels to #%d: %w", number, err)
	}
	return nil
}

// CommentIssue posts body on an issue or pull request. Empty owner/repo
// default to the client's repository.
func (c *APIClient) CommentIssue(ctx context.Context, owner, repo string, number int, body string) error {
	if err := ValidateIssueNumber(number); err != nil {
		return err
	}
	if owner == "" || repo == "" {
		owner, repo = c.owner, c.repo
	}
	_, err := retry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
		_, resp, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: &body})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}
