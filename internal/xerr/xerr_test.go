package xerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTimeout, "waiting for pong", cause)
	require.Equal(t, "timeout: waiting for pong: connection reset", err.Error())
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(KindNotConnected, "no active session")
	require.Equal(t, "not_connected: no active session", err.Error())
}

func TestIsMatchesByKindOnly(t *testing.T) {
	wrapped := Wrap(KindProtocolError, "bad tag", errors.New("boom"))
	require.True(t, errors.Is(wrapped, New(KindProtocolError, "")))
	require.False(t, errors.Is(wrapped, New(KindTimeout, "")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("eof")
	err := Wrap(KindHandshakeFailed, "read hello", cause)
	require.Same(t, cause, errors.Unwrap(err))
}

func TestCommandCarriesCode(t *testing.T) {
	err := Command(127, "shell exited nonzero")
	require.Equal(t, KindCommandError, err.Kind)
	require.Equal(t, int32(127), err.Code)
}
