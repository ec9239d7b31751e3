package ingester

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/quickwit-oss/ingester-node/ingesterror"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/record"
	"github.com/quickwit-oss/ingester-node/replication"
	"github.com/quickwit-oss/ingester-node/shardtable"
)

// OpenReplicationStream implements the follower side of the replication
// stream open handshake (spec §4.5.2): it waits for the leader's Open
// message, replies with OpenResponse, spawns the replication task that
// applies every subsequent ReplicateRequest, and registers the task so at
// most one stream per leader-follower pair exists.
func (c *Core) OpenReplicationStream(ctx context.Context, synIn <-chan replication.SynMessage) (<-chan replication.AckMessage, error) {
	task, ackCh, err := replication.OpenReplicationStream(ctx, c.cfg.SelfNodeID, synIn, c.applyReplicate, replicationAckBufferSize)
	if err != nil {
		return nil, ingesterror.Internal("open_replication_stream: %s", err)
	}

	c.mu.Lock()
	if _, exists := c.replicationTasks[task.LeaderID]; exists {
		c.mu.Unlock()
		task.Stop()
		return nil, ingesterror.Internal("replication task for leader %s already exists", task.LeaderID)
	}
	c.replicationTasks[task.LeaderID] = task
	c.mu.Unlock()

	return ackCh, nil
}

// applyReplicate is the follower-side replication task's ApplyFunc (spec
// §4.5.3): under the state write-lock, it applies every subrequest to the
// local WAL and shard table and builds the matching ack.
func (c *Core) applyReplicate(ctx context.Context, req replication.ReplicateRequest) replication.ReplicateResponse {
	resp := replication.ReplicateResponse{
		LeaderID:         req.LeaderID,
		FollowerID:       req.FollowerID,
		ReplicationSeqno: req.ReplicationSeqno,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range req.Subrequests {
		shard, ok := c.shards.Get(sub.QueueId)
		if !ok {
			var err error
			shard, err = c.createReplicaShard(ctx, sub.QueueId, req.LeaderID)
			if err != nil {
				log.WithError(err).WithField("queue_id", sub.QueueId.String()).Warn("replicate: failed to create replica shard")
				resp.Failures = append(resp.Failures, replication.SubrequestFailure{QueueId: sub.QueueId, Reason: replication.ShardClosed})
				continue
			}
		}

		if shard.IsClosed() {
			resp.Failures = append(resp.Failures, replication.SubrequestFailure{QueueId: sub.QueueId, Reason: replication.ShardClosed})
			continue
		}

		current := shard.ReplicationPositionInclusive()
		if !current.Equal(sub.FromPositionExclusive) {
			log.WithFields(log.Fields{
				"queue_id": sub.QueueId.String(),
				"expected": current.String(),
				"got":      sub.FromPositionExclusive.String(),
			}).Error("replicate: position mismatch, closing shard")
			shard.Close()
			resp.Failures = append(resp.Failures, replication.SubrequestFailure{QueueId: sub.QueueId, Reason: replication.ShardClosed})
			continue
		}

		frames := framesFor(sub.DocBatch, req.CommitType)
		if _, err := c.wal.AppendRecords(ctx, sub.QueueId, nil, frames); err != nil {
			log.WithError(err).WithField("queue_id", sub.QueueId.String()).Warn("replicate: wal append failed, closing shard")
			shard.Close()
			resp.Failures = append(resp.Failures, replication.SubrequestFailure{QueueId: sub.QueueId, Reason: replication.ShardClosed})
			continue
		}

		shard.SetReplicationPositionInclusive(sub.ToPositionInclusive)
		resp.Successes = append(resp.Successes, replication.SubrequestSuccess{
			QueueId:                      sub.QueueId,
			ReplicationPositionInclusive: sub.ToPositionInclusive,
		})
	}

	return resp
}

// createReplicaShard creates the WAL queue and inserts a Replica shard for
// id. Callers must hold c.mu.
func (c *Core) createReplicaShard(ctx context.Context, id qid.QueueId, leaderID string) (*shardtable.Shard, error) {
	if err := c.wal.CreateQueue(ctx, id); err != nil {
		return nil, err
	}
	shard := shardtable.NewShard(shardtable.ReplicaRole(leaderID))
	if err := c.shards.Insert(id, shard); err != nil {
		return nil, err
	}
	return shard, nil
}

// framesFor encodes a batch of document payloads into framed WAL records,
// appending a trailing Commit frame when commitType is Force.
func framesFor(docBatch [][]byte, commitType replication.CommitType) [][]byte {
	frames := make([][]byte, 0, len(docBatch)+1)
	var buf []byte
	for _, doc := range docBatch {
		buf = record.Encode(buf[:0], record.Doc(doc))
		frames = append(frames, append([]byte(nil), buf...))
	}
	if commitType == replication.Force {
		buf = record.Encode(buf[:0], record.Commit())
		frames = append(frames, append([]byte(nil), buf...))
	}
	return frames
}
