package replication

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ApplyFunc applies one ReplicateRequest to the follower's local WAL and
// shard table (spec §4.5.3) and returns the matching response. Callers
// (the ingester core) are expected to perform this under their state
// write-lock.
type ApplyFunc func(ctx context.Context, req ReplicateRequest) ReplicateResponse

// Task is the follower-side replication task: it consumes syn messages
// from one leader, applies them in order, and emits acks in the same
// order requests arrived (spec §4.5.3's ordering requirement).
//
// Grounded on consumer/resolver.go's cancelReplicas/waitAndTearDown
// discipline: a background task with an explicit cancel and a completion
// signal the owner can wait on.
type Task struct {
	LeaderID   string
	FollowerID string

	ackCh  chan AckMessage
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenReplicationStream implements the follower side of the §4.4 open
// handshake: it reads the first syn message from synIn, requires it to be
// Open{leader, follower} addressed to selfNodeID, replies with
// OpenResponse, and spawns the Task that applies every subsequent
// ReplicateRequest via apply.
//
// It returns the spawned Task and a receive-only ack channel the caller
// should bridge back to the leader's Stream.AckIn.
func OpenReplicationStream(ctx context.Context, selfNodeID string, synIn <-chan SynMessage, apply ApplyFunc, ackBufferSize int) (*Task, <-chan AckMessage, error) {
	var first SynMessage
	var ok bool
	select {
	case first, ok = <-synIn:
		if !ok {
			return nil, nil, errors.New("replication stream closed before open handshake")
		}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	if first.Open == nil {
		return nil, nil, errors.New("first syn message must be Open")
	}
	if first.Open.FollowerID != selfNodeID {
		return nil, nil, errors.Errorf("open addressed to %q, not self %q", first.Open.FollowerID, selfNodeID)
	}

	ackCh := make(chan AckMessage, ackBufferSize)
	ackCh <- AckMessage{OpenResponse: &OpenResponseMessage{}}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		LeaderID:   first.Open.LeaderID,
		FollowerID: first.Open.FollowerID,
		ackCh:      ackCh,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go t.run(taskCtx, synIn, apply)
	return t, ackCh, nil
}

func (t *Task) run(ctx context.Context, synIn <-chan SynMessage, apply ApplyFunc) {
	defer close(t.done)
	defer close(t.ackCh)

	for {
		select {
		case msg, ok := <-synIn:
			if !ok {
				return
			}
			if msg.Request == nil {
				log.WithField("leader_id", t.LeaderID).Warn("replication task received non-replicate syn after open")
				continue
			}
			resp := apply(ctx, *msg.Request)
			select {
			case t.ackCh <- AckMessage{Response: &resp}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the task and blocks until its goroutine has exited.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}
