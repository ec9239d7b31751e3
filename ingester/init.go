package ingester

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/record"
	"github.com/quickwit-oss/ingester-node/shardtable"
)

// Init runs startup recovery (spec §4.5.7): every pre-existing queue is
// sealed with a trailing Eof record if it doesn't already have one, and a
// Closed Solo shard at Eof is inserted for it, so no writer can ever resume
// appending to a queue that existed before this process started. Init is
// idempotent: a second call appends no further Eof records.
func (c *Core) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, err := c.wal.ListQueues(ctx)
	if err != nil {
		return errors.Wrap(err, "init: list queues")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(initSealConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return c.sealQueue(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "init: seal queues")
	}

	for _, id := range ids {
		if _, ok := c.shards.Get(id); ok {
			continue
		}
		shard := shardtable.NewShard(shardtable.SoloRole())
		shard.Close()
		shard.SetReplicationPositionInclusive(position.Eof)
		if err := c.shards.Insert(id, shard); err != nil {
			return errors.Wrapf(err, "init: insert sealed shard %s", id)
		}
	}
	return nil
}

// sealQueue ensures id's last record is Eof, appending one if the queue is
// empty or its last record isn't already Eof.
func (c *Core) sealQueue(ctx context.Context, id qid.QueueId) error {
	lastOffset, hasRecords, err := c.wal.CurrentPosition(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "seal %s: current position", id)
	}
	if hasRecords {
		tail, err := c.wal.Range(ctx, id, lastOffset)
		if err != nil {
			return errors.Wrapf(err, "seal %s: range", id)
		}
		if len(tail) > 0 && record.IsEOF(tail[len(tail)-1].Bytes) {
			return nil
		}
	}

	eof := record.Encode(nil, record.EofRecord())
	if _, err := c.wal.AppendRecord(ctx, id, nil, eof); err != nil {
		return errors.Wrapf(err, "seal %s: append eof", id)
	}
	return nil
}
