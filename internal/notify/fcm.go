// README: FCM push adapter for the Notifier contract.
package notify

import (
	"context"
	"encoding/json"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"vigil/internal/metrics"
)

// FCMNotifier sends data-only pushes so the client renders the action buttons
// itself. recipient is the device registration token.
type FCMNotifier struct {
	client  *messaging.Client
	metrics *metrics.Collector
	log     *zap.Logger
}

func NewFCMNotifier(client *messaging.Client, m *metrics.Collector, log *zap.Logger) *FCMNotifier {
	return &FCMNotifier{client: client, metrics: m, log: log}
}

func (n *FCMNotifier) Send(ctx context.Context, recipient, template string, p Payload) Result {
	data := map[string]string{
		"template": template,
		"body":     p.Body,
	}
	for k, v := range p.Data {
		data[k] = v
	}
	if len(p.Actions) > 0 {
		if raw, err := json.Marshal(p.Actions); err == nil {
			data["actions"] = string(raw)
		}
	}

	msg := &messaging.Message{
		Token: recipient,
		Data:  data,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}

	id, err := n.client.Send(ctx, msg)
	if err != nil {
		if n.metrics != nil {
			n.metrics.NotifyFailures.Inc()
		}
		n.log.Warn("fcm send failed",
			zap.String("template", template), zap.Error(err))
		return Result{Success: false, Err: err}
	}
	return Result{Success: true, MessageID: id}
}
