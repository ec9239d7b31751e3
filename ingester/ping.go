package ingester

import (
	"context"

	"github.com/quickwit-oss/ingester-node/ingesterror"
)

// Ping implements the `ping` RPC (spec §4.5.6): a ping not addressed to
// this node as leader is a no-op; one naming a follower is forwarded
// through the peer pool.
func (c *Core) Ping(ctx context.Context, req PingRequest) error {
	if req.LeaderID != c.cfg.SelfNodeID {
		return nil
	}
	if req.FollowerID == nil || *req.FollowerID == "" {
		return nil
	}

	client, ok := c.peers.Get(*req.FollowerID)
	if !ok {
		return ingesterror.Unavailable(*req.FollowerID)
	}
	return client.Ping(ctx)
}
