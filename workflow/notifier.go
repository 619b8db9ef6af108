package workflow

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

// LogNotifier writes events to the log only. Used when Pub/Sub is not configured.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(ctx context.Context, event string, payload any) {
	if n.Logger == nil {
		return
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	entry := n.Logger.WithFields(logrus.Fields{
		"field":          "Notify",
		"event":          event,
		"payload":        payload,
		"correlation_id": correlationId,
	})
	if event == EventApproverUnresolved || event == EventStockAlert || event == EventMaterialShortage {
		entry.Warn("workflow alert")
		return
	}
	entry.Info("workflow event")
}

// NotificationMessage is the Pub/Sub message body.
type NotificationMessage struct {
	Event         string    `json:"event"`
	Payload       any       `json:"payload"`
	CorrelationId string    `json:"correlation_id,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// PubSubNotifier publishes every event to one topic. Publish results are awaited in a
// goroutine so the engine never waits on delivery.
type PubSubNotifier struct {
	topic  *pubsub.Topic
	logger *logrus.Logger
}

func NewPubSubNotifier(topic *pubsub.Topic, logger *logrus.Logger) *PubSubNotifier {
	return &PubSubNotifier{topic: topic, logger: logger}
}

func (n *PubSubNotifier) Notify(ctx context.Context, event string, payload any) {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	data, err := json.Marshal(NotificationMessage{
		Event:         event,
		Payload:       payload,
		CorrelationId: correlationId,
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		config.LogError(n.logger, "notifier.go", "PubSubNotifier.Notify", "Marshal", event, err)
		return
	}
	// detach from the request; it may be cancelled before the publish is acknowledged
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	res := n.topic.Publish(pubCtx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": event},
	})
	go func() {
		defer cancel()
		if _, err := res.Get(pubCtx); err != nil {
			config.LogError(n.logger, "notifier.go", "PubSubNotifier.Notify", "Publish", event, err)
		}
	}()
}

// Stop flushes pending messages.
func (n *PubSubNotifier) Stop() {
	n.topic.Stop()
}
