// README: Notification and voice-call collaborator contracts with logging fallbacks.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Result is what a send attempt reports. Failures are surfaced here and in
// logs; callers never treat them as fatal.
type Result struct {
	Success   bool
	MessageID string
	Err       error
}

// Action is an interactive button attached to a push notification.
type Action struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Destructive bool   `json:"destructive,omitempty"`
}

// Payload is the transport-independent notification shape.
type Payload struct {
	Title   string            `json:"title,omitempty"`
	Body    string            `json:"body"`
	Actions []Action          `json:"actions,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// Notifier delivers a templated notification to a recipient (a device token
// or a phone number, depending on the adapter). At-least-once, non-blocking
// semantics are the caller's responsibility.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, p Payload) Result
}

// Caller places an outbound voice call and reports whether it was answered.
type Caller interface {
	Place(ctx context.Context, recipient, script string) (answered bool, err error)
}

// LogNotifier is the fallback Notifier used when no push credentials are
// configured: it records the send and reports success so flows proceed.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Send(_ context.Context, recipient, template string, p Payload) Result {
	n.Log.Info("notification send (log adapter)",
		zap.String("recipient", recipient),
		zap.String("template", template),
		zap.String("body", p.Body))
	return Result{Success: true, MessageID: "log"}
}

// LogCaller is the fallback Caller: no telephony provider is wired, so calls
// are recorded as placed and reported unanswered, which lets the timeout
// escalation path proceed.
type LogCaller struct {
	Log *zap.Logger
}

func (c *LogCaller) Place(_ context.Context, recipient, script string) (bool, error) {
	c.Log.Info("call attempt (log adapter)",
		zap.String("recipient", recipient),
		zap.String("script", script))
	return false, nil
}
