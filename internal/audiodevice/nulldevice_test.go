package audiodevice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNullCaptureYieldsSilence(t *testing.T) {
	c := NewNullCapture(time.Millisecond)
	buf := []int16{1, 2, 3}
	require.NoError(t, c.Read(buf))
	require.Equal(t, []int16{0, 0, 0}, buf)
}

func TestNullCaptureErrorsAfterClose(t *testing.T) {
	c := NewNullCapture(time.Millisecond)
	require.NoError(t, c.Close())
	require.Error(t, c.Read(make([]int16, 1)))
}

func TestNullPlaybackErrorsAfterClose(t *testing.T) {
	p := NewNullPlayback(time.Millisecond)
	require.NoError(t, p.Close())
	require.Error(t, p.Write(make([]int16, 1)))
}
