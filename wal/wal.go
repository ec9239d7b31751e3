// Package wal defines the storage-engine contract the ingester consumes
// (spec §4.2) and ships a minimal, order-preserving in-memory
// implementation of it. The real storage engine (an asynchronous,
// record-oriented append-only log with per-queue ordered offsets, range
// reads, truncation, deletion, and periodic fsync) is an external
// collaborator; this package exists so the ingester core can be built and
// tested against the same interface without fabricating a third-party
// storage dependency nothing in the spec asked for.
package wal

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/quickwit-oss/ingester-node/qid"
)

// ErrAlreadyExists is returned by CreateQueue when the queue already
// exists. The ingester core treats this as a programming-error invariant
// violation (DESIGN.md), since the shard table gates queue creation.
var ErrAlreadyExists = errors.New("queue already exists")

// ErrMissingQueue is returned by operations addressing a queue that does
// not exist.
var ErrMissingQueue = errors.New("missing queue")

// Record is a single stored (offset, bytes) pair, as returned by Range.
type Record struct {
	Offset uint64
	Bytes  []byte
}

// WAL is the storage-engine interface the ingester core is built against.
type WAL interface {
	// CreateQueue creates an empty queue. Returns ErrAlreadyExists if the
	// queue exists.
	CreateQueue(ctx context.Context, id qid.QueueId) error
	// DeleteQueue deletes a queue. Returns ErrMissingQueue if absent.
	DeleteQueue(ctx context.Context, id qid.QueueId) error
	// ListQueues returns every known queue id, in no particular order.
	ListQueues(ctx context.Context) ([]qid.QueueId, error)
	// AppendRecords atomically appends a sequence of already-framed
	// records, returning the offset of the last one appended.
	// priorOffset, when non-nil, is an optimistic concurrency check: the
	// append fails unless the queue's current tail offset matches.
	AppendRecords(ctx context.Context, id qid.QueueId, priorOffset *uint64, records [][]byte) (lastOffset uint64, err error)
	// AppendRecord appends a single already-framed record.
	AppendRecord(ctx context.Context, id qid.QueueId, priorOffset *uint64, rec []byte) (offset uint64, err error)
	// Truncate drops every record at or below uptoOffsetInclusive.
	Truncate(ctx context.Context, id qid.QueueId, uptoOffsetInclusive uint64) error
	// Range returns every record at or above fromOffset, in offset order.
	Range(ctx context.Context, id qid.QueueId, fromOffset uint64) ([]Record, error)
	// CurrentPosition returns the highest assigned offset, or (0, false)
	// if the queue is empty.
	CurrentPosition(ctx context.Context, id qid.QueueId) (uint64, bool, error)
}

// queue is the in-memory state of a single WAL queue. offsets are assigned
// from a monotonic counter independent of the live record list: truncation
// drops a prefix of records but never rewinds the offset space, matching
// real log engines (and spec §8 scenario 1, where truncating a queue back
// to empty must not cause a subsequent append to reuse an offset).
type queue struct {
	records     []Record // live (post-truncation) records, in offset order
	nextOffset  uint64    // one past the highest offset ever assigned
	hasAppended bool
}

func (q *queue) tailOffset() (uint64, bool) {
	if !q.hasAppended {
		return 0, false
	}
	return q.nextOffset - 1, true
}

// InMemory is a minimal order-preserving WAL implementation used by tests
// and the demo cmd/ingesterd. It is not crash-safe: all state is lost on
// process exit, which is acceptable since spec §1 treats durability as the
// concern of an external storage engine this package merely stands in for.
type InMemory struct {
	mu     sync.Mutex
	queues map[qid.QueueId]*queue
}

// NewInMemory returns an empty in-memory WAL.
func NewInMemory() *InMemory {
	return &InMemory{queues: make(map[qid.QueueId]*queue)}
}

func (w *InMemory) CreateQueue(_ context.Context, id qid.QueueId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.queues[id]; ok {
		return ErrAlreadyExists
	}
	w.queues[id] = &queue{}
	return nil
}

func (w *InMemory) DeleteQueue(_ context.Context, id qid.QueueId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.queues[id]; !ok {
		return ErrMissingQueue
	}
	delete(w.queues, id)
	return nil
}

func (w *InMemory) ListQueues(_ context.Context) ([]qid.QueueId, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]qid.QueueId, 0, len(w.queues))
	for id := range w.queues {
		out = append(out, id)
	}
	return out, nil
}

func (w *InMemory) AppendRecords(_ context.Context, id qid.QueueId, priorOffset *uint64, records [][]byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queues[id]
	if !ok {
		return 0, errors.Wrapf(ErrMissingQueue, "append to %s", id)
	}
	if priorOffset != nil {
		if tail, hasTail := q.tailOffset(); !hasTail || tail != *priorOffset {
			return 0, errors.Errorf("optimistic concurrency check failed for %s", id)
		}
	}
	if len(records) == 0 {
		if tail, ok := q.tailOffset(); ok {
			return tail, nil
		}
		return 0, errors.Errorf("append_records called with no records and empty queue %s", id)
	}

	for _, b := range records {
		cp := append([]byte(nil), b...)
		q.records = append(q.records, Record{Offset: q.nextOffset, Bytes: cp})
		q.nextOffset++
		q.hasAppended = true
	}
	last, _ := q.tailOffset()
	return last, nil
}

func (w *InMemory) AppendRecord(ctx context.Context, id qid.QueueId, priorOffset *uint64, rec []byte) (uint64, error) {
	return w.AppendRecords(ctx, id, priorOffset, [][]byte{rec})
}

func (w *InMemory) Truncate(_ context.Context, id qid.QueueId, uptoOffsetInclusive uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queues[id]
	if !ok {
		return ErrMissingQueue
	}
	kept := q.records[:0:0]
	for _, r := range q.records {
		if r.Offset > uptoOffsetInclusive {
			kept = append(kept, r)
		}
	}
	q.records = kept
	return nil
}

func (w *InMemory) Range(_ context.Context, id qid.QueueId, fromOffset uint64) ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queues[id]
	if !ok {
		return nil, errors.Wrapf(ErrMissingQueue, "range over %s", id)
	}
	var out []Record
	for _, r := range q.records {
		if r.Offset >= fromOffset {
			out = append(out, Record{Offset: r.Offset, Bytes: append([]byte(nil), r.Bytes...)})
		}
	}
	return out, nil
}

func (w *InMemory) CurrentPosition(_ context.Context, id qid.QueueId) (uint64, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queues[id]
	if !ok {
		return 0, false, errors.Wrapf(ErrMissingQueue, "current_position of %s", id)
	}
	off, has := q.tailOffset()
	return off, has, nil
}

var _ WAL = (*InMemory)(nil)
