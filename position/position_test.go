package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalOrder(t *testing.T) {
	assert.True(t, Beginning.Less(Offset(0)))
	assert.True(t, Offset(0).Less(Offset(1)))
	assert.True(t, Offset(1).Less(Eof))
	assert.True(t, Beginning.Less(Eof))

	assert.False(t, Offset(1).Less(Offset(1)))
	assert.True(t, Offset(1).Equal(Offset(1)))
}

func TestAsOffset(t *testing.T) {
	n, ok := Offset(42).AsOffset()
	require.True(t, ok)
	assert.EqualValues(t, 42, n)

	_, ok = Beginning.AsOffset()
	assert.False(t, ok)

	_, ok = Eof.AsOffset()
	assert.False(t, ok)
}

func TestString(t *testing.T) {
	assert.Equal(t, "Beginning", Beginning.String())
	assert.Equal(t, "Eof", Eof.String())
	assert.Equal(t, "Offset(7)", Offset(7).String())
}
