package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheChangeCloneIsIndependentCopy(t *testing.T) {
	c := &CacheChange{SerializedPayload: []byte{1, 2, 3}}
	clone := c.Clone()
	clone.SerializedPayload[0] = 99
	require.Equal(t, byte(1), c.SerializedPayload[0])
	require.NotSame(t, &c.SerializedPayload, &clone.SerializedPayload)
}

func TestChangeKindString(t *testing.T) {
	require.Equal(t, "ALIVE", Alive.String())
	require.Equal(t, "NOT_ALIVE_DISPOSED", NotAliveDisposed.String())
	require.Equal(t, "NOT_ALIVE_UNREGISTERED", NotAliveUnregistered.String())
}
