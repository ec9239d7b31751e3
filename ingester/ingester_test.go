package ingester_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickwit-oss/ingester-node/ingester"
	"github.com/quickwit-oss/ingester-node/ingesterror"
	"github.com/quickwit-oss/ingester-node/peer"
	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/record"
	"github.com/quickwit-oss/ingester-node/replication"
	"github.com/quickwit-oss/ingester-node/shardtable"
	"github.com/quickwit-oss/ingester-node/wal"
)

func newCore(nodeID string, w wal.WAL, peers peer.Pool) *ingester.Core {
	if peers == nil {
		peers = peer.NewStaticPool()
	}
	return ingester.New(ingester.Config{
		SelfNodeID:                   nodeID,
		ReplicationFactor:            2,
		SynReplicationStreamCapacity: 5,
		DefaultFetchBatchNumBytes:    1 << 20,
	}, w, peers)
}

func rangeBytes(t *testing.T, w wal.WAL, id qid.QueueId) [][]byte {
	t.Helper()
	recs, err := w.Range(context.Background(), id, 0)
	require.NoError(t, err)
	out := make([][]byte, len(recs))
	for i, r := range recs {
		out[i] = r.Bytes
	}
	return out
}

// Scenario 1 (spec §8): init seals pre-existing queues.
func TestInitSealsPreexistingQueues(t *testing.T) {
	ctx := context.Background()
	w := wal.NewInMemory()

	q1 := qid.New("test-index", "test-source", "1")
	q2 := qid.New("test-index", "test-source", "2")
	q3 := qid.New("test-index", "test-source", "3")

	require.NoError(t, w.CreateQueue(ctx, q1))
	_, err := w.AppendRecords(ctx, q1, nil, [][]byte{record.Encode(nil, record.Doc([]byte("x")))})
	require.NoError(t, err)
	require.NoError(t, w.Truncate(ctx, q1, 0))

	require.NoError(t, w.CreateQueue(ctx, q2))
	_, err = w.AppendRecords(ctx, q2, nil, [][]byte{record.Encode(nil, record.Doc([]byte("test-doc-foo")))})
	require.NoError(t, err)

	require.NoError(t, w.CreateQueue(ctx, q3))

	core := newCore("test-ingester-0", w, nil)
	require.NoError(t, core.Init(ctx))

	for _, id := range []qid.QueueId{q1, q2, q3} {
		shard, ok := core.Shard(id)
		require.True(t, ok, "expected sealed shard for %s", id)
		assert.True(t, shard.IsClosed())
		assert.True(t, shard.ReplicationPositionInclusive().Equal(position.Eof))
	}

	assert.Equal(t, [][]byte{record.Encode(nil, record.EofRecord())}, rangeBytes(t, w, q1))
	assert.Equal(t, [][]byte{
		record.Encode(nil, record.Doc([]byte("test-doc-foo"))),
		record.Encode(nil, record.EofRecord()),
	}, rangeBytes(t, w, q2))
	assert.Equal(t, [][]byte{record.Encode(nil, record.EofRecord())}, rangeBytes(t, w, q3))

	// Re-running init must append no further records.
	require.NoError(t, core.Init(ctx))
	assert.Len(t, rangeBytes(t, w, q1), 1)
	assert.Len(t, rangeBytes(t, w, q2), 2)
	assert.Len(t, rangeBytes(t, w, q3), 1)
}

// Scenario 2 (spec §8): solo persist, Force commit.
func TestSoloPersistForceCommit(t *testing.T) {
	ctx := context.Background()
	w := wal.NewInMemory()
	core := newCore("test-ingester-0", w, nil)

	resp, err := core.Persist(ctx, ingester.PersistRequest{
		LeaderID:   "test-ingester-0",
		CommitType: replication.Force,
		Subrequests: []ingester.PersistSubrequest{
			{SubID: "sub-0", IndexUID: "test-index", SourceID: "test-source", ShardID: "1", DocBatch: [][]byte{[]byte("a")}},
			{SubID: "sub-1", IndexUID: "test-index", SourceID: "test-source", ShardID: "1b", DocBatch: [][]byte{[]byte("a"), []byte("b")}},
		},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Failures)
	require.Len(t, resp.Successes, 2)

	assert.Equal(t, 2, core.ShardCount())

	bySubID := map[string]ingester.PersistSuccess{}
	for _, s := range resp.Successes {
		bySubID[s.SubID] = s
	}
	off0, ok := bySubID["sub-0"].ReplicationPositionInclusive.AsOffset()
	require.True(t, ok)
	assert.EqualValues(t, 1, off0)
	off1, ok := bySubID["sub-1"].ReplicationPositionInclusive.AsOffset()
	require.True(t, ok)
	assert.EqualValues(t, 2, off1)

	for _, id := range []qid.QueueId{bySubID["sub-0"].QueueId, bySubID["sub-1"].QueueId} {
		shard, ok := core.Shard(id)
		require.True(t, ok)
		assert.False(t, shard.IsClosed())
		bytes := rangeBytes(t, w, id)
		last, err := record.Decode(bytes[len(bytes)-1])
		require.NoError(t, err)
		assert.Equal(t, record.KindCommit, last.Kind)
	}
}

// Scenario 3 (spec §8): open replication stream.
func TestOpenReplicationStreamHandshake(t *testing.T) {
	ctx := context.Background()
	follower := newCore("test-follower", wal.NewInMemory(), nil)

	synCh := make(chan replication.SynMessage, 1)
	synCh <- replication.SynMessage{Open: &replication.OpenMessage{LeaderID: "test-leader", FollowerID: "test-follower"}}

	ackCh, err := follower.OpenReplicationStream(ctx, synCh)
	require.NoError(t, err)

	select {
	case ack := <-ackCh:
		require.NotNil(t, ack.OpenResponse)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OpenResponse")
	}

	assert.True(t, follower.HasReplicationTask("test-leader"))
	close(synCh)
}

// Scenario 4 (spec §8): primary + follower persist.
func TestPrimaryFollowerPersist(t *testing.T) {
	ctx := context.Background()

	leaderWAL := wal.NewInMemory()
	followerWAL := wal.NewInMemory()

	pool := peer.NewStaticPool()
	followerCore := newCore("test-follower", followerWAL, nil)
	pool.Register("test-follower", ingester.LocalClient{Core: followerCore})

	leaderCore := newCore("test-leader", leaderWAL, pool)

	follower := "test-follower"
	resp, err := leaderCore.Persist(ctx, ingester.PersistRequest{
		LeaderID:   "test-leader",
		CommitType: replication.Force,
		Subrequests: []ingester.PersistSubrequest{
			{SubID: "sub-0", IndexUID: "test-index", SourceID: "test-source", ShardID: "1", FollowerID: &follower, DocBatch: [][]byte{[]byte("a")}},
			{SubID: "sub-1", IndexUID: "test-index", SourceID: "test-source", ShardID: "2", FollowerID: &follower, DocBatch: [][]byte{[]byte("a"), []byte("b")}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Successes, 2)
	assert.Empty(t, resp.Failures)

	q1 := qid.New("test-index", "test-source", "1")
	q2 := qid.New("test-index", "test-source", "2")

	assert.Equal(t, rangeBytes(t, leaderWAL, q1), rangeBytes(t, followerWAL, q1))
	assert.Equal(t, rangeBytes(t, leaderWAL, q2), rangeBytes(t, followerWAL, q2))

	leaderShard, ok := leaderCore.Shard(q1)
	require.True(t, ok)
	assert.Equal(t, shardtable.Primary, leaderShard.Role().Kind)

	followerShard, ok := followerCore.Shard(q1)
	require.True(t, ok)
	assert.Equal(t, shardtable.Replica, followerShard.Role().Kind)
}

// Scenario 6 (spec §8): truncate mixed.
func TestTruncateMixed(t *testing.T) {
	ctx := context.Background()
	w := wal.NewInMemory()
	core := newCore("test-ingester-0", w, nil)

	_, err := core.Persist(ctx, ingester.PersistRequest{
		LeaderID:   "test-ingester-0",
		CommitType: replication.Auto,
		Subrequests: []ingester.PersistSubrequest{
			{SubID: "a", IndexUID: "i", SourceID: "s", ShardID: "q1", DocBatch: [][]byte{[]byte("a"), []byte("b")}},
			{SubID: "b", IndexUID: "i", SourceID: "s", ShardID: "q2", DocBatch: [][]byte{[]byte("a")}},
		},
	})
	require.NoError(t, err)

	q1 := qid.New("i", "s", "q1")
	q2 := qid.New("i", "s", "q2")
	qUnknown := qid.New("i", "s", "q-unknown")

	err = core.Truncate(ctx, ingester.TruncateRequest{
		IngesterID: "test-ingester-0",
		Subrequests: []ingester.TruncateSubrequest{
			{IndexUID: "i", SourceID: "s", ShardID: "q1", ToPositionInclusive: position.Offset(0)},
			{IndexUID: "i", SourceID: "s", ShardID: "q2", ToPositionInclusive: position.Eof},
			{IndexUID: "i", SourceID: "s", ShardID: "q-unknown", ToPositionInclusive: position.Offset(1337)},
		},
	})
	require.NoError(t, err)

	bytes := rangeBytes(t, w, q1)
	require.Len(t, bytes, 1)
	decoded, err := record.Decode(bytes[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), decoded.Payload)

	_, err = w.Range(ctx, q2, 0)
	assert.ErrorIs(t, err, wal.ErrMissingQueue)
	_, ok := core.Shard(q2)
	assert.False(t, ok)

	_, ok = core.Shard(qUnknown)
	assert.False(t, ok)
}

// stallingClient completes the open handshake but never acks a replicate
// request, used to exercise persist's PERSIST_REQUEST_TIMEOUT bound (spec
// §5).
type stallingClient struct{}

func (stallingClient) OpenReplicationStream(_ context.Context, synIn <-chan replication.SynMessage) (<-chan replication.AckMessage, error) {
	ackCh := make(chan replication.AckMessage, 1)
	<-synIn // consume Open
	ackCh <- replication.AckMessage{OpenResponse: &replication.OpenResponseMessage{}}
	go func() {
		for range synIn {
			// swallow every replicate request without ever acking it.
		}
	}()
	return ackCh, nil
}

func (stallingClient) Ping(context.Context) error { return nil }

var _ peer.Client = stallingClient{}

func TestPersistTimesOutWhenReplicationAckNeverArrives(t *testing.T) {
	ctx := context.Background()
	w := wal.NewInMemory()
	pool := peer.NewStaticPool()
	pool.Register("test-follower", stallingClient{})

	core := ingester.New(ingester.Config{
		SelfNodeID:                   "test-leader",
		ReplicationFactor:            2,
		SynReplicationStreamCapacity: 5,
		PersistRequestTimeout:        10 * time.Millisecond,
		DefaultFetchBatchNumBytes:    1 << 20,
	}, w, pool)

	follower := "test-follower"
	_, err := core.Persist(ctx, ingester.PersistRequest{
		LeaderID:   "test-leader",
		CommitType: replication.Auto,
		Subrequests: []ingester.PersistSubrequest{
			{SubID: "sub-0", IndexUID: "i", SourceID: "s", ShardID: "1", FollowerID: &follower, DocBatch: [][]byte{[]byte("a")}},
		},
	})
	require.Error(t, err)
	assert.True(t, ingesterror.IsKind(err, ingesterror.KindTimeout))
}
