// Package notify delivers gate and pipeline notifications to channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/logging"
)

// Message is one notification bound for a channel.
type Message struct {
	Channel    string // "log", "slack", "slack:#chan", "github:owner/repo#N", "jira", "jira:PROJ"
	RunID      string
	GateID     string
	GateType   string
	Subject    string
	Text       string
	Escalation bool
}

// Notifier sends a message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// ErrUnsupportedChannel is returned for channel identifiers no sender handles.
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

// Channel is a parsed channel identifier.
type Channel struct {
	Kind   string
	Target string
}

// ParseChannel splits "kind:target".
func ParseChannel(s string) Channel {
	kind, target, _ := strings.Cut(strings.TrimSpace(s), ":")
	return Channel{Kind: kind, Target: target}
}

// IssueRef parses "owner/repo#N".
func IssueRef(target string) (owner, repo string, number int, err error) {
	path, num, ok := strings.Cut(target, "#")
	if !ok {
		return "", "", 0, fmt.Errorf("issue reference %q missing #number", target)
	}
	owner, repo, ok = strings.Cut(path, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", 0, fmt.Errorf("issue reference %q must be owner/repo#N", target)
	}
	number, err = strconv.Atoi(num)
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("issue reference %q has invalid number", target)
	}
	return owner, repo, number, nil
}

// Multi routes messages to a sender by channel kind. Failures are logged and
// returned; callers on the gate path ignore them.
type Multi struct {
	senders map[string]Notifier
	logger  *logging.Logger
}

// NewMulti creates a dispatcher. The "log" kind is always available.
func NewMulti(logger *logging.Logger) *Multi {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Multi{senders: make(map[string]Notifier), logger: logger.Named("notify")}
	m.senders["log"] = NewLog(logger)
	return m
}

// Register installs the sender for a channel kind.
func (m *Multi) Register(kind string, n Notifier) *Multi {
	m.senders[kind] = n
	return m
}

// Notify implements Notifier.
func (m *Multi) Notify(ctx context.Context, msg Message) error {
	ch := ParseChannel(msg.Channel)
	sender, ok := m.senders[ch.Kind]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
		m.logger.Warn(ctx, "notification dropped", zap.String("channel", msg.Channel), zap.Error(err))
		return err
	}
	if err := sender.Notify(ctx, msg); err != nil {
		m.logger.Warn(ctx, "notification failed",
			zap.String("channel", msg.Channel),
			zap.String("gate_id", msg.GateID),
			zap.Error(err))
		return err
	}
	return nil
}

// Log writes notifications to the structured log.
type Log struct {
	logger *logging.Logger
}

func NewLog(logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(ctx context.Context, msg Message) error {
	l.logger.Info(ctx, msg.Subject,
		zap.String("run_id", msg.RunID),
		zap.String("gate_id", msg.GateID),
		zap.String("gate_type", msg.GateType),
		zap.Bool("escalation", msg.Escalation),
		zap.String("text", msg.Text))
	return nil
}
