// Package record implements the framed WAL record codec: Doc, Commit, and
// Eof frames, byte-exact per the wire format the ingester and its peers
// agree on.
package record

import "github.com/pkg/errors"

// Kind identifies the type of a Record.
type Kind uint8

const (
	// KindDoc frames an opaque document payload.
	KindDoc Kind = 0x00
	// KindCommit marks a forced-commit boundary for downstream consumers.
	KindCommit Kind = 0x01
	// KindEof seals a shard: no further records will be appended.
	KindEof Kind = 0x02
)

// version is the reserved second framing byte. Always zero today; carried
// so a future incompatible framing change has somewhere to go without
// stealing the tag byte.
const version byte = 0x00

// Record is a single WAL record: either a Doc carrying a payload, or one of
// the zero-payload Commit/Eof markers.
type Record struct {
	Kind    Kind
	Payload []byte // only meaningful when Kind == KindDoc
}

// Doc constructs a Doc record wrapping payload. payload is not copied.
func Doc(payload []byte) Record { return Record{Kind: KindDoc, Payload: payload} }

// Commit constructs a Commit record.
func Commit() Record { return Record{Kind: KindCommit} }

// EofRecord constructs an Eof record.
func EofRecord() Record { return Record{Kind: KindEof} }

// ErrInvalidRecord is returned by Decode when the tag byte does not name a
// known Kind. Decoding never guesses; an unrecognized tag is always an
// error rather than a silent mislabelling.
var ErrInvalidRecord = errors.New("invalid record")

// Encode appends the wire representation of r to dst and returns the
// extended slice. The frame leads with the reserved version byte, then the
// tag byte: Doc is "\0\0" followed by payload, Commit is "\0\x01", Eof is
// "\0\x02".
func Encode(dst []byte, r Record) []byte {
	switch r.Kind {
	case KindCommit:
		return append(dst, version, byte(KindCommit))
	case KindEof:
		return append(dst, version, byte(KindEof))
	default:
		dst = append(dst, version, byte(KindDoc))
		return append(dst, r.Payload...)
	}
}

// Decode parses a single framed record from b. It returns ErrInvalidRecord
// if the tag byte is not a recognized Kind, rather than mislabelling it.
func Decode(b []byte) (Record, error) {
	if len(b) < 2 {
		return Record{}, errors.Wrap(ErrInvalidRecord, "short frame")
	}
	switch Kind(b[1]) {
	case KindDoc:
		return Record{Kind: KindDoc, Payload: b[2:]}, nil
	case KindCommit:
		return Record{Kind: KindCommit}, nil
	case KindEof:
		return Record{Kind: KindEof}, nil
	default:
		return Record{}, errors.Wrapf(ErrInvalidRecord, "unknown tag 0x%02x", b[1])
	}
}

// IsEOF is a cheap tag peek: it reports whether the framed bytes b encode
// an Eof record, without fully decoding the frame.
func IsEOF(b []byte) bool {
	return len(b) >= 2 && Kind(b[1]) == KindEof
}
