package notify

import (
	"context"
	"fmt"
)

// IssueCommenter posts a comment on an issue or pull request.
type IssueCommenter interface {
	CommentIssue(ctx context.Context, owner, repo string, number int, body string) error
}

// GitHub delivers notifications as issue comments.
type GitHub struct {
	client IssueCommenter
}

func NewGitHub(client IssueCommenter) *GitHub {
	return &GitHub{client: client}
}

func (g *GitHub) Notify(ctx context.Context, msg Message) error {
	owner, repo, number, err := IssueRef(ParseChannel(msg.Channel).Target)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("**%s**\n\n%s", msg.Subject, msg.Text)
	if msg.GateID != "" {
		body += fmt.Sprintf("\n\nResolve with `devlution gate approve --id %s --run-id %s`.", msg.GateID, msg.RunID)
	}
	return g.client.CommentIssue(ctx, owner, repo, number, body)
}
