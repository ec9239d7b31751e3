// Package fetch implements the fetch task (spec §4.5.4): it tails a single
// shard's WAL, emitting contiguous record batches bounded by a byte budget,
// waking on the shard's new-records notifier and honoring an optional
// from/to position range.
//
// Grounded on consumer/resolver.go's task-with-cancel-and-done shape, and on
// broker/read_api's range-read-then-wait-for-more loop over a journal.
package fetch

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/quickwit-oss/ingester-node/position"
	"github.com/quickwit-oss/ingester-node/qid"
	"github.com/quickwit-oss/ingester-node/shardtable"
	"github.com/quickwit-oss/ingester-node/wal"
)

// Response is one emitted batch: the position range it covers and the
// framed record bytes within it (a "mrecord_batch" in spec terms).
type Response struct {
	FromExclusive position.Position
	ToInclusive   position.Position
	Records       [][]byte
}

// Task tails one shard, publishing Response values on its Responses channel
// until the context is cancelled, the caller calls Stop, an explicit offset
// upper bound has been emitted (whether or not the shard is still open), or
// the shard is closed and fully drained.
type Task struct {
	id            qid.QueueId
	w             wal.WAL
	shard         *shardtable.Shard
	batchNumBytes int

	from position.Position
	to   *position.Position // nil: no upper bound, tail until the shard closes

	out    chan Response
	cancel context.CancelFunc
	done   chan struct{}
}

// Start spawns a fetch task for id, reading via w, waking on shard's
// notifier. fromExclusive is the starting position (use position.Beginning
// for the start of the log); toInclusive, if non-nil, bounds the range the
// task will ever emit.
func Start(ctx context.Context, id qid.QueueId, w wal.WAL, shard *shardtable.Shard, fromExclusive position.Position, toInclusive *position.Position, batchNumBytes int) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		id:            id,
		w:             w,
		shard:         shard,
		batchNumBytes: batchNumBytes,
		from:          fromExclusive,
		to:            toInclusive,
		out:           make(chan Response),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go t.run(taskCtx)
	return t
}

// Responses is the channel of emitted batches.
func (t *Task) Responses() <-chan Response { return t.out }

// Stop cancels the task and blocks until its goroutine exits.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	defer close(t.out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t.boundReached() {
			return
		}

		fromOffset := uint64(0)
		if off, ok := t.from.AsOffset(); ok {
			fromOffset = off + 1
		}

		// Subscribe before reading, so records appended between the range
		// read and the wait below still wake the task.
		newRecords := t.shard.NewRecordsChan()

		records, err := t.w.Range(ctx, t.id, fromOffset)
		if err != nil {
			log.WithError(err).WithField("queue_id", t.id.String()).Warn("fetch: wal range failed")
			return
		}

		if batch, lastOffset, ok := t.takeBudget(records); ok {
			resp := Response{FromExclusive: t.from, ToInclusive: position.Offset(lastOffset), Records: batch}
			select {
			case t.out <- resp:
				t.from = resp.ToInclusive
			case <-ctx.Done():
				return
			}
			continue
		}

		if t.shard.IsClosed() {
			return
		}

		select {
		case <-newRecords:
		case <-ctx.Done():
			return
		}
	}
}

// boundReached reports whether t.from has already reached or passed an
// explicit offset upper bound.
func (t *Task) boundReached() bool {
	if t.to == nil {
		return false
	}
	toOffset, ok := t.to.AsOffset()
	if !ok {
		return false
	}
	fromOffset, ok := t.from.AsOffset()
	return ok && fromOffset >= toOffset
}

// takeBudget slices a prefix of records respecting the upper bound and the
// byte budget. At least one record is always taken if any are available,
// even if it alone exceeds the budget, so a single oversized record can't
// stall the tail forever.
func (t *Task) takeBudget(records []wal.Record) ([][]byte, uint64, bool) {
	if len(records) == 0 {
		return nil, 0, false
	}

	var batch [][]byte
	numBytes := 0
	var lastOffset uint64

	for _, r := range records {
		if t.to != nil {
			if toOffset, ok := t.to.AsOffset(); ok && r.Offset > toOffset {
				break
			}
		}
		if numBytes > 0 && numBytes+len(r.Bytes) > t.batchNumBytes {
			break
		}
		batch = append(batch, r.Bytes)
		numBytes += len(r.Bytes)
		lastOffset = r.Offset
	}

	if len(batch) == 0 {
		return nil, 0, false
	}
	return batch, lastOffset, true
}
