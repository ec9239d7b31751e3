package replication

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrStreamBroken is returned by every outstanding and future Replicate
// future once a stream terminates, whether by the follower side closing
// its ack channel or by a protocol violation (mismatched ack seqno).
var ErrStreamBroken = errors.New("replication stream broken")

// Future is the result of a single Replicate call, fulfilled once the
// matching ack is received (or the stream breaks).
type Future struct {
	ch chan futureResult
}

type futureResult struct {
	resp *ReplicateResponse
	err  error
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (*ReplicateResponse, error) {
	select {
	case r := <-f.ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingReplicate struct {
	seqno uint64
	fut   *Future
}

// Stream is the leader-side handle to a single follower's replication
// channel: a bounded outgoing syn queue and an unbounded incoming ack
// stream, matched FIFO by replication seqno (spec §4.4).
type Stream struct {
	leaderID, followerID string

	synCh chan SynMessage
	ackCh chan AckMessage

	nextSeqno uint64 // atomic

	mu          sync.Mutex
	outstanding []pendingReplicate
	broken      bool
	brokenErr   error

	closeOnce sync.Once
}

// NewStream constructs a Stream for the given leader/follower pair. synCapacity
// is the buffer size of the syn channel, bounding how many syn messages can
// wait unread by the transport (spec §6.4's SYN_REPLICATION_STREAM_CAPACITY);
// messages already read but not yet acked do not count against it.
// ackBufferSize should comfortably exceed synCapacity since the ack stream
// is logically unbounded.
func NewStream(leaderID, followerID string, synCapacity, ackBufferSize int) *Stream {
	return &Stream{
		leaderID:   leaderID,
		followerID: followerID,
		synCh:      make(chan SynMessage, synCapacity),
		ackCh:      make(chan AckMessage, ackBufferSize),
	}
}

// SynOut is the channel a transport (or, in this repo, an in-process
// bridge to a replication.Task) reads outgoing syn messages from.
func (s *Stream) SynOut() <-chan SynMessage { return s.synCh }

// AckIn is the channel a transport feeds incoming ack messages into.
func (s *Stream) AckIn() chan<- AckMessage { return s.ackCh }

// Open performs the mandatory open handshake: send Open{leaderID,
// followerID}, then require the first ack to be OpenResponse. On success
// it starts the background dispatch loop that matches subsequent acks to
// outstanding Replicate futures.
func (s *Stream) Open(ctx context.Context) error {
	select {
	case s.synCh <- SynMessage{Open: &OpenMessage{LeaderID: s.leaderID, FollowerID: s.followerID}}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case ack, ok := <-s.ackCh:
		if !ok || ack.OpenResponse == nil {
			return errors.New("replication stream open handshake failed: expected OpenResponse")
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	go s.dispatchLoop()
	return nil
}

// NextReplicationSeqno returns the next value in this stream's strictly
// monotonic, zero-based sequence number space.
func (s *Stream) NextReplicationSeqno() uint64 {
	return atomic.AddUint64(&s.nextSeqno, 1) - 1
}

// Replicate enqueues req onto the syn channel (blocking if the channel is
// at capacity) and returns a Future resolved once the matching ack
// arrives. Per spec §4.5.1, the caller is expected to invoke Replicate
// while still holding the ingester's state lock, so that syn submission
// order matches WAL append order; Future.Wait is called only after the
// lock is released.
func (s *Stream) Replicate(ctx context.Context, req ReplicateRequest) (*Future, error) {
	s.mu.Lock()
	if s.broken {
		err := s.brokenErr
		s.mu.Unlock()
		return nil, err
	}
	fut := &Future{ch: make(chan futureResult, 1)}
	s.outstanding = append(s.outstanding, pendingReplicate{seqno: req.ReplicationSeqno, fut: fut})
	s.mu.Unlock()

	select {
	case s.synCh <- SynMessage{Request: &req}:
		return fut, nil
	case <-ctx.Done():
		s.dropOutstanding(req.ReplicationSeqno)
		return nil, ctx.Err()
	}
}

func (s *Stream) dropOutstanding(seqno uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.outstanding {
		if p.seqno == seqno {
			s.outstanding = append(s.outstanding[:i], s.outstanding[i+1:]...)
			return
		}
	}
}

func (s *Stream) dispatchLoop() {
	for ack := range s.ackCh {
		s.mu.Lock()
		if len(s.outstanding) == 0 {
			s.mu.Unlock()
			log.WithFields(log.Fields{
				"leader_id":   s.leaderID,
				"follower_id": s.followerID,
			}).Warn("replication stream received ack with no outstanding request")
			continue
		}
		head := s.outstanding[0]
		s.outstanding = s.outstanding[1:]
		s.mu.Unlock()

		if ack.Response == nil || ack.Response.ReplicationSeqno != head.seqno {
			log.WithFields(log.Fields{
				"leader_id":   s.leaderID,
				"follower_id": s.followerID,
				"expect_seqno": head.seqno,
			}).Error("replication stream protocol violation: ack seqno mismatch")
			head.fut.ch <- futureResult{err: ErrStreamBroken}
			s.poison(ErrStreamBroken)
			return
		}
		head.fut.ch <- futureResult{resp: ack.Response}
	}
	s.poison(ErrStreamBroken)
}

// poison fails every outstanding future and all future Replicate calls
// with err.
func (s *Stream) poison(err error) {
	s.mu.Lock()
	if s.broken {
		s.mu.Unlock()
		return
	}
	s.broken = true
	s.brokenErr = err
	outstanding := s.outstanding
	s.outstanding = nil
	s.mu.Unlock()

	for _, p := range outstanding {
		p.fut.ch <- futureResult{err: err}
	}
}

// Close tears down the stream, poisoning any outstanding futures and
// closing the syn channel so a bridged transport/task observes shutdown.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.poison(ErrStreamBroken)
		close(s.synCh)
	})
}
