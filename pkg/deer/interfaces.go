package deer

import (
	"context"
	"time"
)

// Marshaller converts content to and from the cells of a content row.
type Marshaller interface {
	// Marshal returns the cells owned by the content itself. Denormalized
	// back-references written by other content are not included.
	Marshal(content Content) (Columns, error)

	// Unmarshal rebuilds content from a row. It returns a
	// *CorruptContentError when a mandatory column is absent.
	Unmarshal(key string, cols Columns) (Content, error)
}

// Hasher fingerprints the semantically meaningful fields of content.
type Hasher interface {
	Hash(content Content) (string, error)
}

// MessageSender delivers change notifications. Messages sharing a partition
// key are processed by the same downstream consumer.
type MessageSender interface {
	SendMessage(ctx context.Context, msg Message, partitionKey []byte) error
}

// IDGenerator assigns ids to content written for the first time.
type IDGenerator interface {
	NextID(ctx context.Context) (Id, error)
}

// EquivalenceGraphStore resolves the equivalence graph each id belongs to.
// Ids that are in no graph are omitted from the result.
type EquivalenceGraphStore interface {
	ResolveIDs(ctx context.Context, ids []Id) (map[Id]EquivalenceGraph, error)
}

// ContentResolver resolves stored content by id. Ids that cannot be found
// are omitted from the result.
type ContentResolver interface {
	ResolveIDs(ctx context.Context, ids []Id) (map[Id]Content, error)
}

// Clock supplies the time stamped on writes.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}
