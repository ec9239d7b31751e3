package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Record{
		Doc([]byte("test-doc-foo")),
		Doc([]byte("")),
		Commit(),
		EofRecord(),
	}
	for _, r := range cases {
		encoded := Encode(nil, r)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, r.Kind, decoded.Kind)
		if r.Kind == KindDoc {
			assert.Equal(t, r.Payload, decoded.Payload)
		}
	}
}

func TestFixedEncodings(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x01}, Encode(nil, Commit()))
	assert.Equal(t, []byte{0x00, 0x02}, Encode(nil, EofRecord()))
	assert.Equal(t, append([]byte{0x00, 0x00}, []byte("x")...), Encode(nil, Doc([]byte("x"))))
}

func TestDecodeInvalidTag(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x7f})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestDecodeShortFrame(t *testing.T) {
	_, err := Decode([]byte{0x00})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestIsEOF(t *testing.T) {
	assert.True(t, IsEOF(Encode(nil, EofRecord())))
	assert.False(t, IsEOF(Encode(nil, Commit())))
	assert.False(t, IsEOF(Encode(nil, Doc([]byte("x")))))
}

func TestEncodeAppendsToExistingBuffer(t *testing.T) {
	buf := []byte{0xff}
	buf = Encode(buf, Commit())
	assert.Equal(t, []byte{0xff, 0x00, 0x01}, buf)
}
