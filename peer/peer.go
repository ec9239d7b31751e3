// Package peer defines the ingester's view of its peers: a name-addressed
// pool of client handles used to open replication streams and forward
// pings. The concrete transport (gRPC, or any other RPC framing) is an
// external collaborator; this package only fixes the shape the ingester
// core calls through.
package peer

import (
	"context"

	"github.com/quickwit-oss/ingester-node/replication"
)

// Client is the subset of another ingester's RPC surface this node calls as
// a peer.
type Client interface {
	// OpenReplicationStream opens a replication stream to the peer, feeding
	// it the syn messages read from synIn and returning the peer's ack
	// stream.
	OpenReplicationStream(ctx context.Context, synIn <-chan replication.SynMessage) (<-chan replication.AckMessage, error)
	// Ping checks the peer's liveness.
	Ping(ctx context.Context) error
}

// Pool resolves peer node ids to Clients. Get is expected to be a lock-free
// read (spec §5); absence is reported to the caller, which translates it to
// ingesterror.Unavailable.
type Pool interface {
	Get(id string) (Client, bool)
}

// StaticPool is a simple name-addressed pool for local/dev wiring and
// tests, where peers are known up front rather than discovered through a
// cluster membership service (an explicit external collaborator, spec §1).
type StaticPool struct {
	clients map[string]Client
}

// NewStaticPool returns an empty StaticPool.
func NewStaticPool() *StaticPool {
	return &StaticPool{clients: make(map[string]Client)}
}

// Register adds or replaces the client for id.
func (p *StaticPool) Register(id string, c Client) {
	p.clients[id] = c
}

// Get implements Pool.
func (p *StaticPool) Get(id string) (Client, bool) {
	c, ok := p.clients[id]
	return c, ok
}

var _ Pool = (*StaticPool)(nil)
