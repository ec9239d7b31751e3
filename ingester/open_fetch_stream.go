package ingester

import (
	"context"

	"github.com/quickwit-oss/ingester-node/fetch"
	"github.com/quickwit-oss/ingester-node/ingesterror"
	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
)

// OpenFetchStream implements the `open_fetch_stream` RPC (spec §4.5.4): it
// locates the shard and hands the WAL and the shard's new-records notifier
// to a fetch task configured with the node's default batch byte budget.
func (c *Core) OpenFetchStream(ctx context.Context, req FetchRequest) (*fetch.Task, error) {
	id := qid.New(req.IndexUID, req.SourceID, req.ShardID)

	c.mu.RLock()
	shard, ok := c.shards.Get(id)
	c.mu.RUnlock()
	if !ok {
		return nil, ingesterror.Internal("shard not found: %s", id)
	}

	from := position.Beginning
	if req.FromPositionExclusive != nil {
		from = *req.FromPositionExclusive
	}

	return fetch.Start(ctx, id, c.wal, shard, from, req.ToPositionInclusive, c.cfg.DefaultFetchBatchNumBytes), nil
}
