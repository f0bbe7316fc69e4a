package deer

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Message kinds, used as the event type on the wire.
const (
	KindResourceUpdated          = "resource.updated"
	KindEquivalenceGraphUpdated  = "equivalence.graph.updated"
	KindEquivalentContentUpdated = "equivalent.content.updated"
)

// MessageHeader is carried by every notification.
type MessageHeader struct {
	ID        string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func newHeader(now time.Time) MessageHeader {
	return MessageHeader{ID: uuid.NewString(), Timestamp: now}
}

// Message is a change notification.
type Message interface {
	Header() MessageHeader
	Kind() string
}

// ResourceUpdatedMessage announces that a piece of content was written.
type ResourceUpdatedMessage struct {
	MessageHeader
	Updated ContentRef `json:"updated_resource"`
}

func (m *ResourceUpdatedMessage) Header() MessageHeader { return m.MessageHeader }
func (m *ResourceUpdatedMessage) Kind() string          { return KindResourceUpdated }

// EquivalenceGraphUpdateMessage announces that an equivalence graph update
// was materialized.
type EquivalenceGraphUpdateMessage struct {
	MessageHeader
	Update EquivalenceGraphUpdate `json:"graph_update"`
}

func (m *EquivalenceGraphUpdateMessage) Header() MessageHeader { return m.MessageHeader }
func (m *EquivalenceGraphUpdateMessage) Kind() string          { return KindEquivalenceGraphUpdated }

// EquivalentContentUpdatedMessage announces that one member of an
// equivalent set was rewritten.
type EquivalentContentUpdatedMessage struct {
	MessageHeader
	EquivalentSetID Id         `json:"equivalent_set_id"`
	Content         ContentRef `json:"content_ref"`
}

func (m *EquivalentContentUpdatedMessage) Header() MessageHeader { return m.MessageHeader }
func (m *EquivalentContentUpdatedMessage) Kind() string          { return KindEquivalentContentUpdated }

// PartitionKey encodes an id as the fixed width big-endian key the
// transport partitions on.
func PartitionKey(id Id) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// PartitionKeyID decodes a key produced by PartitionKey.
func PartitionKeyID(key []byte) (Id, bool) {
	if len(key) != 8 {
		return 0, false
	}
	return Id(binary.BigEndian.Uint64(key)), true
}

// NoopMessageSender drops every message.
// Useful when notifications are not consumed, or for testing
type NoopMessageSender struct{}

// NewNoopMessageSender creates a new no-operation sender
func NewNoopMessageSender() MessageSender {
	return &NoopMessageSender{}
}

// SendMessage does nothing and returns nil
func (n *NoopMessageSender) SendMessage(ctx context.Context, msg Message, partitionKey []byte) error {
	return nil
}

// LoggingMessageSender logs messages but delivers them nowhere.
// Useful for development and debugging
type LoggingMessageSender struct {
	logger *slog.Logger
}

// NewLoggingMessageSender creates a new logging sender
func NewLoggingMessageSender(logger *slog.Logger) MessageSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMessageSender{logger: logger}
}

// SendMessage logs the message kind, id and partition
func (l *LoggingMessageSender) SendMessage(ctx context.Context, msg Message, partitionKey []byte) error {
	partition, _ := PartitionKeyID(partitionKey)
	l.logger.InfoContext(ctx, "message sent",
		"kind", msg.Kind(),
		"message_id", msg.Header().ID,
		"partition", partition,
	)
	return nil
}
