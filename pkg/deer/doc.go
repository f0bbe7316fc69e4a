// Package deer is the write path of a content catalog: it stores brands,
// series, episodes and other content in a column store, keeps the
// denormalized references between containers and their children in step,
// and materializes sets of equivalent content for readers.
//
// Three stores share one Storage backend (e.g., memory, Badger, Postgres)
// provided under repo/. ContentStore writes individual content and sends a
// ResourceUpdatedMessage for each resource it touches. GraphStore records
// equivalence graphs. EquivalentContentStore copies each graph's members
// into a single row keyed by the graph id so that an equivalent set can be
// read in one query.
//
// Hash Gate
//
// ContentStore only persists content whose ContentHasher digest differs from
// the stored version. Ids, write timestamps and projections pushed in by
// related content are excluded from the digest, so rewriting an unchanged
// feed is a no-op that sends no notifications.
//
// Partitioning
//
// Every notification is keyed by PartitionKey of the equivalence graph id
// when the resource belongs to one, and of the resource id otherwise. All
// changes to one equivalent set therefore reach the same consumer.
package deer
