package ingester

import (
	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/replication"
)

// PersistSubrequest is one shard's slice of a PersistRequest (spec §6.1).
type PersistSubrequest struct {
	SubID                        string
	IndexUID, SourceID, ShardID  string
	FollowerID                   *string // nil: Solo shard
	DocBatch                     [][]byte
}

// PersistRequest is the `persist` RPC's request (spec §4.5.1, §6.1).
type PersistRequest struct {
	LeaderID    string
	CommitType  replication.CommitType
	Subrequests []PersistSubrequest
}

// PersistSuccess reports a successfully persisted (and, if applicable,
// replicated) Subrequest.
type PersistSuccess struct {
	SubID                        string
	QueueId                      qid.QueueId
	ReplicationPositionInclusive position.Position
}

// PersistFailure reports a Subrequest that could not be persisted.
type PersistFailure struct {
	SubID   string
	QueueId qid.QueueId
	Reason  replication.FailureReason
}

// PersistResponse is the `persist` RPC's response.
type PersistResponse struct {
	LeaderID   string
	Successes  []PersistSuccess
	Failures   []PersistFailure
}

// TruncateSubrequest names one queue's new retention floor.
type TruncateSubrequest struct {
	IndexUID, SourceID, ShardID string
	ToPositionInclusive         position.Position
}

// TruncateRequest is the `truncate` RPC's request (spec §4.5.5).
type TruncateRequest struct {
	IngesterID  string
	Subrequests []TruncateSubrequest
}

// PingRequest is the `ping` RPC's request (spec §4.5.6).
type PingRequest struct {
	LeaderID   string
	FollowerID *string
}

// FetchRequest is the `open_fetch_stream` RPC's request (spec §4.5.4).
type FetchRequest struct {
	ClientID                    string
	IndexUID, SourceID, ShardID string
	// FromPositionExclusive defaults to position.Beginning when nil.
	FromPositionExclusive *position.Position
	// ToPositionInclusive, when nil, means no upper bound: the stream
	// tails indefinitely until the shard closes and is fully drained.
	ToPositionInclusive *position.Position
}
