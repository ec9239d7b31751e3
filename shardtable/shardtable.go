// Package shardtable implements the in-memory QueueId -> shard mapping
// (spec §3/§4.3): per-shard role, open/closed state, replication-position
// bookkeeping, and the broadcast-style new-record notifier fetch tasks
// subscribe to.
//
// Grounded on the teacher's consumer/resolver.go discipline of guarding a
// shared map with a mutex and updating it only under that lock.
package shardtable

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
)

// State is a shard's operational state.
type State int

const (
	// Open shards accept persist/replicate subrequests.
	Open State = iota
	// Closed shards reject further persist/replicate subrequests.
	Closed
)

// RoleKind discriminates a shard's replication role.
type RoleKind int

const (
	// Solo shards have no follower; only the local WAL is written.
	Solo RoleKind = iota
	// Primary shards lead a single follower.
	Primary
	// Replica shards mirror a leader.
	Replica
)

// Role names the shard's replication role and, for Primary/Replica, the
// peer node id involved.
type Role struct {
	Kind RoleKind
	// PeerID is the follower id for Primary, or the leader id for Replica.
	// Empty for Solo.
	PeerID string
}

// SoloRole constructs a Solo role.
func SoloRole() Role { return Role{Kind: Solo} }

// PrimaryRole constructs a Primary role with the given follower id.
func PrimaryRole(followerID string) Role { return Role{Kind: Primary, PeerID: followerID} }

// ReplicaRole constructs a Replica role with the given leader id.
func ReplicaRole(leaderID string) Role { return Role{Kind: Replica, PeerID: leaderID} }

// notifier is a tiny broadcast primitive: Notify closes the current
// channel and replaces it, waking every outstanding Chan() waiter exactly
// once. This mirrors the "signal on every successful append" contract of
// spec §4.3 without requiring subscribers to register/unregister.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier { return &notifier{ch: make(chan struct{})} }

// Chan returns the channel to select on; it closes the next time Notify
// is called.
func (n *notifier) Chan() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// Notify wakes every current waiter.
func (n *notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}

// Shard is the per-queue-id record tracked by Table.
type Shard struct {
	mu sync.Mutex

	role  Role
	state State
	// replicationPositionInclusive is the highest offset known to be
	// durable and, if a follower is configured, replicated.
	replicationPositionInclusive position.Position

	notifier *notifier
}

// NewShard constructs a shard in Open state at Beginning, with the given
// role. Role is fixed for the shard's lifetime (spec §3 invariant 3).
func NewShard(role Role) *Shard {
	return &Shard{
		role:                         role,
		state:                        Open,
		replicationPositionInclusive: position.Beginning,
		notifier:                     newNotifier(),
	}
}

// Role returns the shard's fixed replication role.
func (s *Shard) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// State returns the shard's current open/closed state.
func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsClosed reports whether the shard is Closed.
func (s *Shard) IsClosed() bool { return s.State() == Closed }

// Close transitions the shard to Closed. Idempotent.
func (s *Shard) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Closed
}

// ReplicationPositionInclusive returns the shard's current replication
// position.
func (s *Shard) ReplicationPositionInclusive() position.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicationPositionInclusive
}

// SetReplicationPositionInclusive advances the shard's replication
// position and wakes any fetch tasks waiting on new records. It panics if
// pos would move the position backwards (spec §3 invariant 1); this is a
// programming error, analogous to the teacher's debug-assertion on
// monotonicity (spec §4.3).
func (s *Shard) SetReplicationPositionInclusive(pos position.Position) {
	s.mu.Lock()
	if pos.Less(s.replicationPositionInclusive) {
		s.mu.Unlock()
		panic(errors.Errorf("replication position must be monotonic: %s -> %s",
			s.replicationPositionInclusive, pos).Error())
	}
	s.replicationPositionInclusive = pos
	s.mu.Unlock()

	s.notifier.Notify()
}

// NewRecordsChan returns a channel that a fetch task can select on; it is
// closed the next time the shard's replication position advances.
func (s *Shard) NewRecordsChan() <-chan struct{} {
	return s.notifier.Chan()
}

// ErrAlreadyExists signals an attempt to Insert a shard for a QueueId
// which already has one. Per DESIGN.md, the ingester core treats this as
// a programming-error invariant violation: shard creation is gated by a
// prior Get.
var ErrAlreadyExists = errors.New("shard already exists")

// Table is the in-memory QueueId -> *Shard map, guarded by its own
// read-write lock, separate from the ingester core's state lock (spec §3).
type Table struct {
	mu     sync.RWMutex
	shards map[qid.QueueId]*Shard
}

// New returns an empty shard table.
func New() *Table {
	return &Table{shards: make(map[qid.QueueId]*Shard)}
}

// Get returns the shard for id, if any.
func (t *Table) Get(id qid.QueueId) (*Shard, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.shards[id]
	return s, ok
}

// Insert adds shard under id. Returns ErrAlreadyExists if one is already
// present.
func (t *Table) Insert(id qid.QueueId, shard *Shard) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.shards[id]; ok {
		return ErrAlreadyExists
	}
	t.shards[id] = shard
	return nil
}

// Remove deletes the shard for id, if present.
func (t *Table) Remove(id qid.QueueId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.shards, id)
}

// EachWithPeer calls fn for every shard whose role names peerID (i.e. every
// Primary shard hosted at that follower), used by the replication-failure
// eviction path (spec §4.6) to find every shard affected by a broken
// stream.
func (t *Table) EachWithPeer(peerID string, fn func(id qid.QueueId, s *Shard)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, s := range t.shards {
		role := s.Role()
		if role.Kind == Primary && role.PeerID == peerID {
			fn(id, s)
		}
	}
}

// Len returns the number of shards in the table. Exposed for tests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.shards)
}
