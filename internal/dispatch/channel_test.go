package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSingleHandoff(t *testing.T) {
	reg := NewChannelRegistry()
	tx, rx, err := reg.Open("run-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "run-1/1", tx.Key())
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, tx.Send(4))
	require.NoError(t, tx.Close())
	require.NoError(t, tx.Notify())

	select {
	case <-rx.Notified():
	case <-time.After(time.Second):
		t.Fatal("notification not observed")
	}

	v, err := rx.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	require.NoError(t, rx.Close())
	assert.Equal(t, 0, reg.Len())
}

func TestChannelSecondReceiveIsClosed(t *testing.T) {
	reg := NewChannelRegistry()
	tx, rx, err := reg.Open("run-1", 1)
	require.NoError(t, err)

	require.NoError(t, tx.Send(2))
	_, err = rx.Receive(context.Background())
	require.NoError(t, err)

	_, err = rx.Receive(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelMisuse(t *testing.T) {
	reg := NewChannelRegistry()
	tx, rx, err := reg.Open("run-1", 1)
	require.NoError(t, err)

	require.NoError(t, tx.Send(1))
	assert.ErrorIs(t, tx.Send(2), ErrChannelClosed, "second send")
	require.NoError(t, tx.Close())
	assert.ErrorIs(t, tx.Close(), ErrChannelClosed, "second close")
	require.NoError(t, tx.Notify())
	assert.ErrorIs(t, tx.Notify(), ErrChannelClosed, "second notify")

	require.NoError(t, rx.Close())
	assert.ErrorIs(t, rx.Close(), ErrChannelClosed, "second receiver close")
	_, err = rx.Receive(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed, "receive after close")
}

func TestChannelPeerGone(t *testing.T) {
	reg := NewChannelRegistry()
	tx, rx, err := reg.Open("run-1", 1)
	require.NoError(t, err)

	require.NoError(t, tx.Close())
	_, err = rx.Receive(context.Background())
	assert.ErrorIs(t, err, ErrPeerGone)
}

func TestChannelSendAfterReceiverReleased(t *testing.T) {
	reg := NewChannelRegistry()
	tx, rx, err := reg.Open("run-1", 1)
	require.NoError(t, err)

	assert.True(t, rx.release())
	assert.False(t, rx.release(), "already released")
	assert.ErrorIs(t, tx.Send(3), ErrPeerGone)
	assert.Equal(t, 0, reg.Len())
}

func TestChannelReceiveHonoursContext(t *testing.T) {
	reg := NewChannelRegistry()
	_, rx, err := reg.Open("run-1", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rx.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryNamespacesRuns(t *testing.T) {
	reg := NewChannelRegistry()

	_, rxA, err := reg.Open("run-a", 1)
	require.NoError(t, err)
	_, _, err = reg.Open("run-b", 1)
	require.NoError(t, err, "same unit id in another run must not collide")
	_, _, err = reg.Open("run-a", 1)
	assert.Error(t, err, "same key twice")
	_, _, err = reg.Open("", 1)
	assert.Error(t, err)

	assert.Equal(t, 1, reg.LenRun("run-a"))
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, rxA.Close())
	assert.Equal(t, 0, reg.LenRun("run-a"))
	assert.Equal(t, 1, reg.LenRun("run-b"))
}

func TestRegistryClaimRejectsReusedOrAmbiguousRunIDs(t *testing.T) {
	reg := NewChannelRegistry()

	require.NoError(t, reg.claim("run-a"))
	assert.ErrorIs(t, reg.claim("run-a"), ErrInvalidRequest, "in flight")
	assert.ErrorIs(t, reg.claim("run/a"), ErrInvalidRequest, "separator")
	assert.ErrorIs(t, reg.claim(""), ErrInvalidRequest)

	reg.unclaim("run-a")
	require.NoError(t, reg.claim("run-a"), "free again once released")
	reg.unclaim("run-a")

	// Channels left open under a run block its reuse.
	_, rx, err := reg.Open("run-b", 1)
	require.NoError(t, err)
	assert.ErrorIs(t, reg.claim("run-b"), ErrInvalidRequest)
	require.NoError(t, rx.Close())
	assert.NoError(t, reg.claim("run-b"))
}
