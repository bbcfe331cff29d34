package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ominit/nix-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler captures frames and close notifications.
type recordingHandler struct {
	mu     sync.Mutex
	frames []string
	closes int
}

func (h *recordingHandler) HandleMessage(_ context.Context, frame string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
}

func (h *recordingHandler) HandleClose(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
}

func (h *recordingHandler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames...), h.closes
}

func newTestConn(t *testing.T, relay *testutil.Relay) (*Conn, *recordingHandler) {
	t.Helper()
	h := &recordingHandler{}
	c := New(relay.URL("/client"), &WebsocketDialer{}, h, WithCloseGrace(200*time.Millisecond))
	t.Cleanup(func() { c.Disconnect(context.Background()) })
	return c, h
}

func TestConn_SendAndReceive(t *testing.T) {
	ctx := context.Background()
	relay := testutil.NewRelay(t, func(rc *testutil.RelayConn, frame string) {
		_ = rc.Send("echo " + frame)
	})
	c, h := newTestConn(t, relay)

	assert.Equal(t, Disconnected, c.State())
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, Connected, c.State())

	require.NoError(t, c.Send(ctx, "one"))
	require.NoError(t, c.Send(ctx, "two"))

	require.Eventually(t, func() bool {
		frames, _ := h.snapshot()
		return len(frames) == 2
	}, 2*time.Second, 5*time.Millisecond)

	frames, _ := h.snapshot()
	assert.Equal(t, []string{"echo one", "echo two"}, frames)
	assert.Equal(t, "/client", relay.Conns()[0].Path)
}

func TestConn_SendWhileDisconnected(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	c, _ := newTestConn(t, relay)

	err := c.Send(context.Background(), "job k {}")
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, relay.Frames())
}

func TestConn_ConnectFailure(t *testing.T) {
	relay := testutil.NewRelay(t, nil)
	relay.Reject(true)
	c, _ := newTestConn(t, relay)

	err := c.Connect(context.Background())
	var connErr *ConnectError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, relay.URL("/client"), connErr.URL)
	assert.Equal(t, Disconnected, c.State())
}

func TestConn_PeerDropNotifiesHandler(t *testing.T) {
	ctx := context.Background()
	relay := testutil.NewRelay(t, nil)
	c, h := newTestConn(t, relay)
	require.NoError(t, c.Connect(ctx))

	relay.WaitForConns(1).Drop()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not end after peer dropped the connection")
	}
	assert.Equal(t, Disconnected, c.State())
	_, closes := h.snapshot()
	assert.Equal(t, 1, closes)

	err := c.Send(ctx, "late")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConn_DisconnectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	relay := testutil.NewRelay(t, nil)
	c, h := newTestConn(t, relay)

	c.Disconnect(ctx) // never connected

	require.NoError(t, c.Connect(ctx))
	c.Disconnect(ctx)
	c.Disconnect(ctx)

	assert.Equal(t, Disconnected, c.State())
	_, closes := h.snapshot()
	assert.Equal(t, 1, closes)
}

func TestConn_ConnectReplacesExistingConnection(t *testing.T) {
	ctx := context.Background()
	relay := testutil.NewRelay(t, nil)
	c, h := newTestConn(t, relay)

	require.NoError(t, c.Connect(ctx))
	first := c.Done()
	require.NoError(t, c.Connect(ctx))

	select {
	case <-first:
	default:
		t.Fatal("previous receive loop should have finished before reconnecting")
	}
	assert.Equal(t, Connected, c.State())
	assert.Len(t, relay.Conns(), 2)
	_, closes := h.snapshot()
	assert.Equal(t, 1, closes)
}

func TestConn_EnsureConnected(t *testing.T) {
	ctx := context.Background()
	relay := testutil.NewRelay(t, nil)
	c, _ := newTestConn(t, relay)

	require.NoError(t, c.EnsureConnected(ctx))
	require.NoError(t, c.EnsureConnected(ctx))
	assert.Equal(t, 1, relay.Dials(), "an open connection must be reused")

	relay.WaitForConns(1).Drop()
	<-c.Done()

	require.NoError(t, c.EnsureConnected(ctx))
	assert.Equal(t, 2, relay.Dials())
	require.NoError(t, c.Send(ctx, "after reconnect"))
	relay.WaitForFrame(func(f string) bool { return f == "after reconnect" })
}

func TestConn_ConcurrentSends(t *testing.T) {
	ctx := context.Background()
	relay := testutil.NewRelay(t, nil)
	c, _ := newTestConn(t, relay)
	require.NoError(t, c.Connect(ctx))

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Send(ctx, "job /nix/store/x.drv {}"))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(relay.Frames()) == n }, 2*time.Second, 5*time.Millisecond)
	for _, f := range relay.Frames() {
		assert.Equal(t, "job /nix/store/x.drv {}", f, "frames must never interleave")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
