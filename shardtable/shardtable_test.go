package shardtable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
)

func TestInsertGetRemove(t *testing.T) {
	table := New()
	id := qid.New("idx", "src", "1")
	shard := NewShard(SoloRole())

	require.NoError(t, table.Insert(id, shard))
	got, ok := table.Get(id)
	require.True(t, ok)
	assert.Same(t, shard, got)

	assert.ErrorIs(t, table.Insert(id, NewShard(SoloRole())), ErrAlreadyExists)

	table.Remove(id)
	_, ok = table.Get(id)
	assert.False(t, ok)
}

func TestMonotonicPositionPanicsOnRegression(t *testing.T) {
	shard := NewShard(SoloRole())
	shard.SetReplicationPositionInclusive(position.Offset(5))
	assert.Panics(t, func() {
		shard.SetReplicationPositionInclusive(position.Offset(4))
	})
}

func TestNewRecordsChanWakesOnAdvance(t *testing.T) {
	shard := NewShard(SoloRole())
	ch := shard.NewRecordsChan()

	done := make(chan struct{})
	go func() {
		shard.SetReplicationPositionInclusive(position.Offset(0))
		close(done)
	}()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("notifier did not wake within timeout")
	}
	<-done
}

func TestEachWithPeerFindsOnlyPrimaryShardsAtFollower(t *testing.T) {
	table := New()
	a := qid.New("idx", "src", "1")
	b := qid.New("idx", "src", "2")
	c := qid.New("idx", "src", "3")

	require.NoError(t, table.Insert(a, NewShard(PrimaryRole("f1"))))
	require.NoError(t, table.Insert(b, NewShard(PrimaryRole("f2"))))
	require.NoError(t, table.Insert(c, NewShard(SoloRole())))

	var found []qid.QueueId
	table.EachWithPeer("f1", func(id qid.QueueId, s *Shard) { found = append(found, id) })
	assert.Equal(t, []qid.QueueId{a}, found)
}

func TestCloseIsIdempotent(t *testing.T) {
	shard := NewShard(SoloRole())
	assert.False(t, shard.IsClosed())
	shard.Close()
	shard.Close()
	assert.True(t, shard.IsClosed())
}
