// Package cloudevents delivers change notifications as CloudEvents over
// HTTP, carrying the partition key in the partitionkey extension.
package cloudevents

import (
	"context"
	"encoding/hex"
	"fmt"

	ce "github.com/cloudevents/sdk-go/v2"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

// PartitionKeyExtension is the CloudEvents extension holding the hex encoded
// partition key.
const PartitionKeyExtension = "partitionkey"

// DefaultSource is the event source used when none is configured.
const DefaultSource = "atlas-deer"

// Sender implements deer.MessageSender on a CloudEvents client.
type Sender struct {
	client ce.Client
	target string
	source string
}

var _ deer.MessageSender = (*Sender)(nil)

// New creates a sender that posts events to target over HTTP.
func New(target, source string) (*Sender, error) {
	if target == "" {
		return nil, fmt.Errorf("cloudevents target is required")
	}
	client, err := ce.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return NewWithClient(client, target, source), nil
}

// NewWithClient creates a sender on an existing client. An empty target
// leaves the destination to the client's protocol.
func NewWithClient(client ce.Client, target, source string) *Sender {
	if source == "" {
		source = DefaultSource
	}
	return &Sender{client: client, target: target, source: source}
}

// Event converts a message to a CloudEvent.
func (s *Sender) Event(msg deer.Message, partitionKey []byte) (ce.Event, error) {
	header := msg.Header()
	event := ce.NewEvent()
	event.SetID(header.ID)
	event.SetSource(s.source)
	event.SetType(msg.Kind())
	event.SetTime(header.Timestamp)
	event.SetExtension(PartitionKeyExtension, hex.EncodeToString(partitionKey))
	if err := event.SetData(ce.ApplicationJSON, msg); err != nil {
		return event, fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}
	return event, nil
}

// SendMessage sends the message and waits for the receiver to acknowledge it.
func (s *Sender) SendMessage(ctx context.Context, msg deer.Message, partitionKey []byte) error {
	event, err := s.Event(msg, partitionKey)
	if err != nil {
		return err
	}
	if s.target != "" {
		ctx = ce.ContextWithTarget(ctx, s.target)
	}
	if result := s.client.Send(ctx, event); !ce.IsACK(result) {
		return fmt.Errorf("failed to send %s %s: %w", msg.Kind(), event.ID(), result)
	}
	return nil
}
