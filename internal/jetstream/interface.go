package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the publishing side of JetStream used by the domain-event
// notifier.
type ClientInterface interface {
	// SetupStream creates the stream, or updates it when its config drifted.
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error

	// Publish publishes a message with optional headers. A Nats-Msg-Id header
	// lets the server drop duplicates inside the stream's duplicate window.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error

	Close()
}
