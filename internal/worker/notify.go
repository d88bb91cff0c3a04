package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// ArtifactPublishedType is the message type of artifact notifications.
const ArtifactPublishedType = "ArtifactPublished"

// Publisher sends a message to a broker.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType, messageType string) error
}

// BrokerNotifier announces artifacts as JSON messages through a Publisher.
type BrokerNotifier struct {
	publisher Publisher
}

// NewBrokerNotifier creates a BrokerNotifier.
func NewBrokerNotifier(publisher Publisher) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher}
}

// PublishArtifact implements Notifier.
func (n *BrokerNotifier) PublishArtifact(ctx context.Context, event domain.ArtifactEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact event: %w", err)
	}

	if err := n.publisher.PublishWithRetry(ctx, body, "application/json", ArtifactPublishedType); err != nil {
		return fmt.Errorf("failed to publish artifact event: %w", err)
	}
	return nil
}
