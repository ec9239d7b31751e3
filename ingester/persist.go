package ingester

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/quickwit-oss/ingester-node/ingesterror"
	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/replication"
	"github.com/quickwit-oss/ingester-node/shardtable"
)

// pendingGroup accumulates one follower's worth of replicate subrequests
// assembled while Persist holds the state lock, submitted to its
// replication stream before the lock is released, and resolved after.
type pendingGroup struct {
	followerID string
	stream     *replication.Stream
	req        replication.ReplicateRequest
	subIDs     []string // parallel to req.Subrequests
}

func (g *pendingGroup) subIDFor(id qid.QueueId) string {
	for i, sub := range g.req.Subrequests {
		if sub.QueueId == id {
			return g.subIDs[i]
		}
	}
	return ""
}

// Persist implements the `persist` RPC (spec §4.5.1): appends every
// subrequest's docs to its shard's WAL under the state write-lock,
// submitting a ReplicateRequest per follower before the lock is released so
// WAL append order and replication submission order coincide, then awaits
// the replicate results after releasing the lock.
func (c *Core) Persist(ctx context.Context, req PersistRequest) (*PersistResponse, error) {
	if req.LeaderID != c.cfg.SelfNodeID {
		return nil, ingesterror.Internal("persist routed to %s, not leader %s", req.LeaderID, c.cfg.SelfNodeID)
	}

	if c.cfg.PersistRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PersistRequestTimeout)
		defer cancel()
	}

	resp := &PersistResponse{LeaderID: req.LeaderID}
	groups := make(map[string]*pendingGroup)

	c.mu.Lock()
	for _, sub := range req.Subrequests {
		id := qid.New(sub.IndexUID, sub.SourceID, sub.ShardID)

		shard, ok := c.shards.Get(id)
		if !ok {
			var err error
			shard, err = c.createShard(ctx, id, sub.FollowerID)
			if err != nil {
				log.WithError(err).WithField("queue_id", id.String()).Warn("persist: failed to create shard")
				resp.Failures = append(resp.Failures, PersistFailure{SubID: sub.SubID, QueueId: id, Reason: replication.ShardClosed})
				continue
			}
		}

		if shard.IsClosed() {
			resp.Failures = append(resp.Failures, PersistFailure{SubID: sub.SubID, QueueId: id, Reason: replication.ShardClosed})
			continue
		}

		fromPosition := shard.ReplicationPositionInclusive()
		frames := framesFor(sub.DocBatch, req.CommitType)

		lastOffset, err := c.wal.AppendRecords(ctx, id, nil, frames)
		if err != nil {
			log.WithError(err).WithField("queue_id", id.String()).Warn("persist: wal append failed, closing shard")
			shard.Close()
			resp.Failures = append(resp.Failures, PersistFailure{SubID: sub.SubID, QueueId: id, Reason: replication.ShardClosed})
			continue
		}

		numBytes := 0
		for _, d := range sub.DocBatch {
			numBytes += len(d)
		}
		atomic.AddUint64(&c.ingestedNumDocs, uint64(len(sub.DocBatch)))
		atomic.AddUint64(&c.ingestedNumBytes, uint64(numBytes))

		toPosition := position.Offset(lastOffset)
		shard.SetReplicationPositionInclusive(toPosition)

		role := shard.Role()
		if role.Kind != shardtable.Primary {
			resp.Successes = append(resp.Successes, PersistSuccess{
				SubID: sub.SubID, QueueId: id, ReplicationPositionInclusive: toPosition,
			})
			continue
		}

		g, ok := groups[role.PeerID]
		if !ok {
			stream, ok := c.replicationStreams[role.PeerID]
			if !ok {
				shard.Close()
				resp.Failures = append(resp.Failures, PersistFailure{SubID: sub.SubID, QueueId: id, Reason: replication.ShardClosed})
				continue
			}
			g = &pendingGroup{followerID: role.PeerID, stream: stream}
			g.req.ReplicationSeqno = stream.NextReplicationSeqno()
			groups[role.PeerID] = g
		}
		g.req.Subrequests = append(g.req.Subrequests, replication.Subrequest{
			QueueId:               id,
			FromPositionExclusive: fromPosition,
			ToPositionInclusive:   toPosition,
			DocBatch:              sub.DocBatch,
		})
		g.subIDs = append(g.subIDs, sub.SubID)
	}

	type submission struct {
		group     *pendingGroup
		fut       *replication.Future
		submitErr error
	}
	submissions := make([]submission, 0, len(groups))
	for _, g := range groups {
		g.req.LeaderID = c.cfg.SelfNodeID
		g.req.FollowerID = g.followerID
		g.req.CommitType = req.CommitType
		fut, err := g.stream.Replicate(ctx, g.req)
		submissions = append(submissions, submission{group: g, fut: fut, submitErr: err})
	}
	c.mu.Unlock()

	for _, s := range submissions {
		if s.submitErr != nil {
			log.WithError(s.submitErr).WithField("follower_id", s.group.followerID).Warn("persist: replicate submission failed, evicting follower")
			c.evictFollower(s.group.followerID, s.submitErr)
			for _, sub := range s.group.req.Subrequests {
				resp.Failures = append(resp.Failures, PersistFailure{
					SubID: s.group.subIDFor(sub.QueueId), QueueId: sub.QueueId, Reason: replication.ShardClosed,
				})
			}
			continue
		}

		rresp, err := s.fut.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// The WAL appends already performed under the lock are
				// durable regardless (spec §5's cancellation contract); the
				// follower may still apply this request once delivered, so
				// it is not evicted the way a broken stream is.
				log.WithField("follower_id", s.group.followerID).Warn("persist: timed out awaiting replicate ack")
				return nil, ingesterror.Timeout("persist: timed out awaiting replication ack from %s", s.group.followerID)
			}
			log.WithError(err).WithField("follower_id", s.group.followerID).Warn("persist: replication stream broken, evicting follower")
			c.evictFollower(s.group.followerID, err)
			for _, sub := range s.group.req.Subrequests {
				resp.Failures = append(resp.Failures, PersistFailure{
					SubID: s.group.subIDFor(sub.QueueId), QueueId: sub.QueueId, Reason: replication.ShardClosed,
				})
			}
			continue
		}

		for _, success := range rresp.Successes {
			resp.Successes = append(resp.Successes, PersistSuccess{
				SubID: s.group.subIDFor(success.QueueId), QueueId: success.QueueId,
				ReplicationPositionInclusive: success.ReplicationPositionInclusive,
			})
		}
		for _, failure := range rresp.Failures {
			resp.Failures = append(resp.Failures, PersistFailure{
				SubID: s.group.subIDFor(failure.QueueId), QueueId: failure.QueueId, Reason: failure.Reason,
			})
		}
	}

	return resp, nil
}

// createShard lazily creates a shard for id (spec §4.5.1 step 2): if a
// follower is named it first opens a replication stream to it (failing the
// shard creation, with no WAL queue created, if that fails), then creates
// the WAL queue and inserts a Primary or Solo shard. A named follower is
// refused when the configured ReplicationFactor is below 2. Callers must
// hold c.mu.
func (c *Core) createShard(ctx context.Context, id qid.QueueId, followerID *string) (*shardtable.Shard, error) {
	var role shardtable.Role
	if followerID != nil && *followerID != "" {
		if c.cfg.ReplicationFactor < 2 {
			return nil, errors.Errorf("replication factor %d does not allow follower %s", c.cfg.ReplicationFactor, *followerID)
		}
		if _, err := c.ensureReplicationStream(ctx, *followerID); err != nil {
			return nil, errors.Wrapf(err, "open replication stream to %s", *followerID)
		}
		role = shardtable.PrimaryRole(*followerID)
	} else {
		role = shardtable.SoloRole()
	}

	if err := c.wal.CreateQueue(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "create queue %s", id)
	}

	shard := shardtable.NewShard(role)
	if err := c.shards.Insert(id, shard); err != nil {
		return nil, errors.Wrapf(err, "shard table invariant violated for %s", id)
	}
	return shard, nil
}

// ensureReplicationStream returns the existing stream to followerID, or
// opens a new one. Callers must hold c.mu.
func (c *Core) ensureReplicationStream(ctx context.Context, followerID string) (*replication.Stream, error) {
	if s, ok := c.replicationStreams[followerID]; ok {
		return s, nil
	}

	client, ok := c.peers.Get(followerID)
	if !ok {
		return nil, ingesterror.Unavailable(followerID)
	}

	stream := replication.NewStream(c.cfg.SelfNodeID, followerID, c.cfg.SynReplicationStreamCapacity, replicationAckBufferSize)

	// The stream outlives any single Persist call (many persists reuse it),
	// so the goroutine bridging it to the follower must not inherit this
	// call's request-scoped deadline; only the handshake wait below does.
	streamCtx := context.Background()
	go func() {
		followerAcks, err := client.OpenReplicationStream(streamCtx, stream.SynOut())
		if err != nil {
			log.WithError(err).WithField("follower_id", followerID).Warn("follower rejected replication stream open")
			stream.Close()
			return
		}
		for ack := range followerAcks {
			stream.AckIn() <- ack
		}
	}()

	if err := stream.Open(ctx); err != nil {
		return nil, errors.Wrapf(err, "open replication stream to %s", followerID)
	}

	c.replicationStreams[followerID] = stream
	return stream, nil
}

// evictFollower implements the §4.6 failure path: the replication stream to
// followerID is closed and discarded, and every shard hosted there is
// closed and removed, so subsequent traffic creates fresh shards or routes
// elsewhere.
func (c *Core) evictFollower(followerID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stream, ok := c.replicationStreams[followerID]; ok {
		stream.Close()
		delete(c.replicationStreams, followerID)
	}

	var toRemove []qid.QueueId
	c.shards.EachWithPeer(followerID, func(id qid.QueueId, shard *shardtable.Shard) {
		shard.Close()
		toRemove = append(toRemove, id)
	})
	for _, id := range toRemove {
		c.shards.Remove(id)
	}

	log.WithError(cause).WithField("follower_id", followerID).Warn("evicted follower after replication stream failure")
}
