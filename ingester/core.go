// Package ingester implements the ingester core (spec §4.5): persist,
// truncate, open_fetch_stream, open_replication_stream, ping, and the
// startup recovery that seals pre-existing queues. It owns the shard table
// and the registries of replication streams (leader side) and replication
// tasks (follower side) behind a single reader-writer lock, matching
// IngesterState's single-write-owner contract (spec §3).
//
// Grounded on consumer/resolver.go's single-struct-behind-one-mutex shape
// for shared mutable state touched by multiple concurrent tasks.
package ingester

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quickwit-oss/ingester-node/peer"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/replication"
	"github.com/quickwit-oss/ingester-node/shardtable"
	"github.com/quickwit-oss/ingester-node/wal"
)

// replicationAckBufferSize sizes the buffered ack channel each replication
// stream/task pair uses; the spec calls the ack stream logically unbounded
// (§4.4), so this just needs to comfortably exceed the syn capacity.
const replicationAckBufferSize = 64

// initSealConcurrency bounds how many queues Init seals concurrently (spec
// supplement: the source seals one queue at a time, this repo fans out with
// golang.org/x/sync/errgroup since nothing requires strict sequencing
// across independent queues).
const initSealConcurrency = 8

// Config controls the ingester core's tunables (spec §6.4).
type Config struct {
	SelfNodeID                   string
	ReplicationFactor            int // 1 (solo only) or 2 (solo or primary+follower)
	SynReplicationStreamCapacity int
	PersistRequestTimeout        time.Duration
	DefaultFetchBatchNumBytes    int
}

// Core is the ingester node's process-wide state (spec §3's IngesterState)
// plus the operations that mutate it. The zero value is not usable; build
// one with New.
type Core struct {
	cfg Config

	// mu is IngesterState's single write-preferring lock. It is held across
	// WAL appends and replication-stream submission in Persist and
	// applyReplicate (spec §5's central ordering invariant), and released
	// before awaiting replicate futures or forwarding network calls.
	mu sync.RWMutex

	wal    wal.WAL
	shards *shardtable.Table

	replicationStreams map[string]*replication.Stream // follower_id -> leader-side stream
	replicationTasks   map[string]*replication.Task    // leader_id -> follower-side task

	peers peer.Pool

	ingestedNumDocs  uint64 // atomic
	ingestedNumBytes uint64 // atomic
}

// New constructs a Core. w is the WAL adapter; peers resolves follower node
// ids to client handles for opening replication streams and forwarding
// pings.
func New(cfg Config, w wal.WAL, peers peer.Pool) *Core {
	return &Core{
		cfg:                cfg,
		wal:                w,
		shards:             shardtable.New(),
		replicationStreams: make(map[string]*replication.Stream),
		replicationTasks:   make(map[string]*replication.Task),
		peers:              peers,
	}
}

// IngestedNumDocs returns the running count of documents persisted by this
// node, a plain atomic counter a metrics registry (an external
// collaborator, spec §1) could scrape.
func (c *Core) IngestedNumDocs() uint64 { return atomic.LoadUint64(&c.ingestedNumDocs) }

// IngestedNumBytes returns the running count of document bytes persisted.
func (c *Core) IngestedNumBytes() uint64 { return atomic.LoadUint64(&c.ingestedNumBytes) }

// ShardCount returns the number of shards currently tracked, exposed for
// tests and operational introspection.
func (c *Core) ShardCount() int { return c.shards.Len() }

// Shard returns the shard tracked for id, if any. Exposed for tests and
// operational introspection.
func (c *Core) Shard(id qid.QueueId) (*shardtable.Shard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shards.Get(id)
}

// HasReplicationTask reports whether a follower-side replication task is
// registered for leaderID.
func (c *Core) HasReplicationTask(leaderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.replicationTasks[leaderID]
	return ok
}
