package shm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-rtps/rtps/locator"
	"github.com/stretchr/testify/require"
)

type capturingReceiver struct {
	mu  sync.Mutex
	got [][]byte
}

func (c *capturingReceiver) OnDataReceived(buf []byte, from locator.Locator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, buf)
}

func (c *capturingReceiver) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.got...)
}

func TestSHMSendDeliversToInputChannelOnSameSegment(t *testing.T) {
	b := New(EnforceNone)
	segID := uint64(42)
	loc := locator.NewSHM(segID, 1)

	recv := &capturingReceiver{}
	require.NoError(t, b.OpenInputChannel(loc, recv))
	defer b.CloseInputChannel(loc)

	out, err := b.OpenOutputChannel(nil, loc)
	require.NoError(t, err)
	require.NoError(t, out.Send(context.Background(), []byte("hello"), time.Time{}))

	require.Eventually(t, func() bool {
		return len(recv.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []byte("hello"), recv.snapshot()[0])
}

func TestSHMOpenInputChannelIsIdempotent(t *testing.T) {
	b := New(EnforceNone)
	loc := locator.NewSHM(7, 1)
	recv := &capturingReceiver{}
	require.NoError(t, b.OpenInputChannel(loc, recv))
	require.NoError(t, b.OpenInputChannel(loc, recv))
	require.Len(t, b.readers, 1)
	b.CloseInputChannel(loc)
}

func TestSHMOutputChannelRejectsNonSHMLocator(t *testing.T) {
	b := New(EnforceNone)
	_, err := b.OpenOutputChannel(nil, locator.NewUDPv4(nil, 7400))
	require.Error(t, err)
}

func TestSHMEnforcementAccessor(t *testing.T) {
	b := New(EnforceAll)
	require.Equal(t, EnforceAll, b.Enforcement())
}
