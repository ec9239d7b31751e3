// Package qid defines the opaque, comparable shard identifier shared by
// every component of the ingester: the WAL adapter, the shard table, the
// replication protocol, and the fetch/truncate RPC surfaces.
package qid

import "fmt"

// QueueId identifies a single shard's WAL queue, derived from
// (index_uid, source_id, shard_id). It is a plain comparable struct so it
// can be used directly as a map key.
type QueueId struct {
	IndexUID string
	SourceID string
	ShardID  string
}

// New constructs a QueueId from its three components.
func New(indexUID, sourceID, shardID string) QueueId {
	return QueueId{IndexUID: indexUID, SourceID: sourceID, ShardID: shardID}
}

// String renders the QueueId for logging and as a WAL queue name.
func (q QueueId) String() string {
	return fmt.Sprintf("%s/%s/%s", q.IndexUID, q.SourceID, q.ShardID)
}
