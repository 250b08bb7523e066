package mqttbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewReturnsErrorWhenBrokerUnreachable(t *testing.T) {
	_, err := New("tcp://127.0.0.1:1", "test-session", nil)
	require.Error(t, err)
}
