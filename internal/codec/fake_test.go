package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeCodecRoundTrip(t *testing.T) {
	c := FakeCodec{}
	pcm := []int16{0, 1, -1, 32767, -32768, 12345}

	packet, err := c.Encode(pcm)
	require.NoError(t, err)

	out := make([]int16, len(pcm))
	n, err := c.Decode(packet, out)
	require.NoError(t, err)
	require.Equal(t, len(pcm), n)
	require.Equal(t, pcm, out)
}
