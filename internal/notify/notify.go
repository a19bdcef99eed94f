// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package notify delivers notifications to researchers and reviewers.
// Delivery failures are reported to the caller, which logs them and moves
// on; no lifecycle transition depends on a notification being sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// ErrUnavailable is returned by dispatchers that cannot deliver anything.
var ErrUnavailable = errors.New("notification dispatcher unavailable")

// Dispatcher sends one message to a set of recipients and returns how many
// were delivered.
type Dispatcher interface {
	Send(ctx context.Context, recipients []string, subject, body string) (int, error)
}

// New returns the dispatcher named by cfg.Dispatcher.
func New(cfg types.NotifyConfig, logger *slog.Logger) (Dispatcher, error) {
	switch cfg.Dispatcher {
	case "", "log":
		return NewLogDispatcher(cfg.From, logger), nil
	case "disabled":
		return Disabled{}, nil
	}
	return nil, fmt.Errorf("unknown notification dispatcher %q", cfg.Dispatcher)
}

// LogDispatcher writes each message to a structured logger. It stands in
// for mail delivery in deployments without an outbound relay.
type LogDispatcher struct {
	from   string
	logger *slog.Logger
}

// NewLogDispatcher returns a LogDispatcher. A nil logger uses the
// "notify" component logger.
func NewLogDispatcher(from string, logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = logging.New("notify")
	}
	return &LogDispatcher{from: from, logger: logger}
}

// Send implements Dispatcher.
func (d *LogDispatcher) Send(ctx context.Context, recipients []string, subject, body string) (int, error) {
	recipients = compact(recipients)
	if len(recipients) == 0 {
		return 0, nil
	}
	d.logger.InfoContext(ctx, "notification",
		"from", d.from,
		"to", strings.Join(recipients, ","),
		"subject", subject,
		"body_bytes", len(body),
	)
	return len(recipients), nil
}

// Disabled rejects every message.
type Disabled struct{}

// Send implements Dispatcher.
func (Disabled) Send(context.Context, []string, string, string) (int, error) {
	return 0, ErrUnavailable
}

// Message is one message captured by a Recorder.
type Message struct {
	Recipients []string
	Subject    string
	Body       string
}

// Recorder keeps every message in memory. Set Err to make Send fail.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// Send implements Dispatcher.
func (r *Recorder) Send(_ context.Context, recipients []string, subject, body string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	recipients = compact(recipients)
	r.messages = append(r.messages, Message{Recipients: recipients, Subject: subject, Body: body})
	return len(recipients), nil
}

// Messages returns a copy of the captured messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// compact drops empty and duplicate addresses, keeping order.
func compact(recipients []string) []string {
	seen := make(map[string]bool, len(recipients))
	out := recipients[:0:0]
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
