package ingester

import (
	"context"

	"github.com/quickwit-oss/ingester-node/peer"
	"github.com/quickwit-oss/ingester-node/replication"
)

// LocalClient adapts a Core to the peer.Client interface for in-process
// wiring: local/dev deployments and tests that run several ingester Cores
// in one process without standing up the RPC framing spec §1 places out of
// scope.
type LocalClient struct {
	Core *Core
}

// OpenReplicationStream delegates to the wrapped Core.
func (l LocalClient) OpenReplicationStream(ctx context.Context, synIn <-chan replication.SynMessage) (<-chan replication.AckMessage, error) {
	return l.Core.OpenReplicationStream(ctx, synIn)
}

// Ping reports the wrapped Core as reachable; a real transport would
// instead make a network round trip.
func (l LocalClient) Ping(ctx context.Context) error {
	return nil
}

var _ peer.Client = LocalClient{}
