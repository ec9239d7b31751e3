package ingesterror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestConstructorsAndCodes(t *testing.T) {
	var err error = Internal("routing error")
	assert.True(t, IsKind(err, KindInternal))
	assert.Equal(t, codes.Internal, err.(*Error).Code())

	err = Unavailable("node-2")
	assert.True(t, IsKind(err, KindIngesterUnavailable))
	assert.Equal(t, codes.Unavailable, err.(*Error).Code())
	assert.Contains(t, err.Error(), "node-2")

	err = Timeout("persist")
	assert.True(t, IsKind(err, KindTimeout))
	assert.Equal(t, codes.DeadlineExceeded, err.(*Error).Code())
}

func TestIsKindRejectsOtherErrorTypes(t *testing.T) {
	assert.False(t, IsKind(assertError{}, KindInternal))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
