// Package replication implements the leader-side replication stream and
// follower-side replication task coordinating a leader's WAL appends with
// a synchronous, ordered replication channel to one follower (spec §4.4,
// §4.5.2-3).
//
// Grounded on broker/append_fsm.go's pipeline (scatter/gatherSync/gatherOK
// over a set of replication peers); this package is the single-follower
// simplification the spec's replication-factor-2 ceiling calls for.
package replication

import (
	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
)

// CommitType distinguishes an Auto persist (docs only) from a Force
// persist (docs plus a trailing Commit record).
type CommitType int

const (
	// Auto appends only the submitted docs.
	Auto CommitType = iota
	// Force appends the submitted docs plus a trailing Commit record.
	Force
)

// Subrequest is one shard's slice of a ReplicateRequest: the docs to
// apply, and the position range they occupy on the leader.
type Subrequest struct {
	QueueId               qid.QueueId
	FromPositionExclusive position.Position
	ToPositionInclusive   position.Position
	DocBatch              [][]byte // raw (unframed) document payloads
}

// FailureReason names why a Subrequest could not be applied.
type FailureReason int

const (
	// ShardClosed is the only failure reason a replicate subrequest can
	// carry today (spec §4.5.3, §7).
	ShardClosed FailureReason = iota
)

// SubrequestSuccess reports a successfully applied Subrequest.
type SubrequestSuccess struct {
	QueueId                      qid.QueueId
	ReplicationPositionInclusive position.Position
}

// SubrequestFailure reports a Subrequest that could not be applied.
type SubrequestFailure struct {
	QueueId qid.QueueId
	Reason  FailureReason
}

// ReplicateRequest is one syn message's replicate payload: every
// Subrequest for a given (leader, follower) pair generated by a single
// persist call, tagged with a strictly increasing ReplicationSeqno.
type ReplicateRequest struct {
	LeaderID         string
	FollowerID       string
	CommitType       CommitType
	ReplicationSeqno uint64
	Subrequests      []Subrequest
}

// ReplicateResponse is the matching ack payload.
type ReplicateResponse struct {
	LeaderID         string
	FollowerID       string
	ReplicationSeqno uint64
	Successes        []SubrequestSuccess
	Failures         []SubrequestFailure
}

// OpenMessage is the mandatory first syn message of a replication stream.
type OpenMessage struct {
	LeaderID   string
	FollowerID string
}

// OpenResponseMessage is the mandatory first ack message.
type OpenResponseMessage struct{}

// SynMessage is a leader-to-follower stream frame: exactly one of Open or
// Request is set.
type SynMessage struct {
	Open    *OpenMessage
	Request *ReplicateRequest
}

// AckMessage is a follower-to-leader stream frame: exactly one of
// OpenResponse or Response is set.
type AckMessage struct {
	OpenResponse *OpenResponseMessage
	Response     *ReplicateResponse
}
