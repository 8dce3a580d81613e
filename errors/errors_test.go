package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/errors"
)

func TestWithMessagePreservesSentinel(t *testing.T) {
	err := errors.NotFound.WithMessage("/does/not/exist")
	require.ErrorIs(t, err, errors.NotFound)
	require.Equal(t, "/does/not/exist", err.Error())
}

func TestWrapPreservesBothLayers(t *testing.T) {
	cause := stderrors.New("disk read timed out")
	err := errors.IO.Wrap(cause)

	require.ErrorIs(t, err, errors.IO)
	require.ErrorIs(t, err, cause)
}

func TestWrapNilReturnsSentinel(t *testing.T) {
	err := errors.NoSpace.Wrap(nil)
	require.Equal(t, errors.NoSpace, err)
}
