package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-rtps/rtps/locator"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	kind    locator.Kind
	opened  []locator.Locator
	sendErr error
	sent    [][]byte
}

func (f *fakeTransport) Kind() locator.Kind { return f.kind }

func (f *fakeTransport) OpenInputChannel(loc locator.Locator, recv Receiver) error {
	f.opened = append(f.opened, loc)
	return nil
}

func (f *fakeTransport) OpenOutputChannel(existing []SendResource, loc locator.Locator) (SendResource, error) {
	return &fakeSendResource{t: f, loc: loc}, nil
}

func (f *fakeTransport) CloseInputChannel(loc locator.Locator) error { return nil }

func (f *fakeTransport) TransformRemoteLocator(remote locator.Locator) locator.Locator { return remote }

type fakeSendResource struct {
	t   *fakeTransport
	loc locator.Locator
}

func (r *fakeSendResource) Send(ctx context.Context, buf []byte, deadline time.Time) error {
	if r.t.sendErr != nil {
		return r.t.sendErr
	}
	r.t.sent = append(r.t.sent, buf)
	return nil
}
func (r *fakeSendResource) Locator() locator.Locator { return r.loc }
func (r *fakeSendResource) Close() error             { return nil }

func TestManagerSendReusesOutputChannel(t *testing.T) {
	ft := &fakeTransport{kind: locator.KindUDPv4}
	Register(ft)
	defer delete(registry, locator.KindUDPv4)

	m := NewManager()
	dst := locator.NewUDPv4(nil, 7400)
	ok := m.Send(context.Background(), []byte("hello"), []locator.Locator{dst}, time.Time{})
	require.True(t, ok)
	ok = m.Send(context.Background(), []byte("again"), []locator.Locator{dst}, time.Time{})
	require.True(t, ok)
	require.Len(t, m.outputs[dst], 1, "second send should reuse the existing output channel")
	require.Len(t, ft.sent, 2)
}

func TestManagerSendReturnsTrueIfAnyDestinationSucceeds(t *testing.T) {
	good := &fakeTransport{kind: locator.KindUDPv4}
	Register(good)
	defer delete(registry, locator.KindUDPv4)

	m := NewManager()
	ok := m.Send(context.Background(), []byte("x"), []locator.Locator{
		locator.NewUDPv4(nil, 1),
		locator.NewUDPv4(nil, 2),
	}, time.Time{})
	require.True(t, ok)
}

func TestManagerSendFailsWhenNoTransportRegistered(t *testing.T) {
	m := NewManager()
	ok := m.Send(context.Background(), []byte("x"), []locator.Locator{locator.NewSHM(1, 2)}, time.Time{})
	require.False(t, ok)
}
