package ingester

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/quickwit-oss/ingester-node/ingesterror"
	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/wal"
)

// Truncate implements the `truncate` RPC (spec §4.5.5): an Offset(n) bound
// drops records <= n; an Eof bound deletes the whole queue and its shard;
// Beginning is a no-op. Missing queues are silently ignored.
func (c *Core) Truncate(ctx context.Context, req TruncateRequest) error {
	if req.IngesterID != c.cfg.SelfNodeID {
		return ingesterror.Internal("truncate routed to %s, not self %s", req.IngesterID, c.cfg.SelfNodeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range req.Subrequests {
		id := qid.New(sub.IndexUID, sub.SourceID, sub.ShardID)

		switch sub.ToPositionInclusive.Kind() {
		case position.KindOffset:
			offset, _ := sub.ToPositionInclusive.AsOffset()
			if err := c.wal.Truncate(ctx, id, offset); err != nil && !errors.Is(err, wal.ErrMissingQueue) {
				log.WithError(err).WithField("queue_id", id.String()).Warn("truncate: wal truncate failed")
			}
		case position.KindEof:
			if err := c.wal.DeleteQueue(ctx, id); err != nil && !errors.Is(err, wal.ErrMissingQueue) {
				log.WithError(err).WithField("queue_id", id.String()).Warn("truncate: wal delete failed")
			}
			c.shards.Remove(id)
		default:
			// Beginning: no-op.
		}
	}
	return nil
}
