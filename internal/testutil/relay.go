package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ominit/nix-relay/internal/protocol"
	"github.com/stretchr/testify/require"
)

// FrameHandler is invoked for every text frame a Relay receives.
type FrameHandler func(rc *RelayConn, frame string)

// Relay is an in-process relay for tests. It accepts any number of
// connections, records every inbound frame and passes each one to its
// FrameHandler. NewRelay serves raw websocket frames on any path;
// NewSocketIORelay serves Socket.IO "message" events.
type Relay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	handler  FrameHandler
	reject   atomic.Bool
	onClose  func()

	mu     sync.Mutex
	conns  []*RelayConn
	frames []string
	dials  int
}

// RelayConn is the relay's side of one accepted connection. Path is the
// request path for websocket connections and the namespace for Socket.IO.
type RelayConn struct {
	Path    string
	send    func(frame string) error
	drop    func()
	writeMu sync.Mutex
}

// Send writes a text frame to the connected peer.
func (rc *RelayConn) Send(frame string) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	return rc.send(frame)
}

// Drop closes the underlying connection without a close handshake.
func (rc *RelayConn) Drop() {
	rc.drop()
}

// NewRelay starts a Relay that is shut down when the test finishes.
// A nil handler only records frames.
func NewRelay(t *testing.T, handler FrameHandler) *Relay {
	t.Helper()
	r := &Relay{t: t, handler: handler}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.dials++
	r.mu.Unlock()

	if r.reject.Load() {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	rc := &RelayConn{
		Path: req.URL.Path,
		send: func(frame string) error { return conn.WriteMessage(websocket.TextMessage, []byte(frame)) },
		drop: func() { _ = conn.Close() },
	}
	r.accept(rc)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		r.receive(rc, string(data))
	}
}

func (r *Relay) accept(rc *RelayConn) {
	r.mu.Lock()
	r.conns = append(r.conns, rc)
	r.mu.Unlock()
}

func (r *Relay) receive(rc *RelayConn, frame string) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
	if r.handler != nil {
		r.handler(rc, frame)
	}
}

// URL returns the websocket URL for path on this relay.
func (r *Relay) URL(path string) string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + path
}

// CacheURL returns the relay's base http URL.
func (r *Relay) CacheURL() string {
	return r.server.URL
}

// Reject makes subsequent connection attempts fail with 503.
func (r *Relay) Reject(reject bool) {
	r.reject.Store(reject)
}

// Frames returns a copy of every frame received so far.
func (r *Relay) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

// FramesWithVerb returns the received frames whose first field is verb.
func (r *Relay) FramesWithVerb(verb string) []string {
	var out []string
	for _, f := range r.Frames() {
		if protocol.Verb(f) == verb {
			out = append(out, f)
		}
	}
	return out
}

// Conns returns the connections accepted so far.
func (r *Relay) Conns() []*RelayConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RelayConn(nil), r.conns...)
}

// Dials returns the number of connection attempts, including rejected ones.
func (r *Relay) Dials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

// DropAll abruptly closes every accepted connection.
func (r *Relay) DropAll() {
	for _, rc := range r.Conns() {
		rc.Drop()
	}
}

// WaitForConns blocks until at least n connections have been accepted and
// returns the n-th one.
func (r *Relay) WaitForConns(n int) *RelayConn {
	r.t.Helper()
	require.Eventually(r.t, func() bool { return len(r.Conns()) >= n }, 5*time.Second, 5*time.Millisecond,
		"relay never accepted %d connections", n)
	return r.Conns()[n-1]
}

// WaitForFrame blocks until a frame satisfying match has been received.
func (r *Relay) WaitForFrame(match func(string) bool) string {
	r.t.Helper()
	var found string
	require.Eventually(r.t, func() bool {
		for _, f := range r.Frames() {
			if match(f) {
				found = f
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "relay never received the expected frame")
	return found
}

// Close shuts the relay down.
func (r *Relay) Close() {
	r.DropAll()
	if r.onClose != nil {
		r.onClose()
	}
	r.server.Close()
}

// Responder returns a FrameHandler that answers every job frame with the
// outcome listed in results, or fallback for keys not listed.
func Responder(results map[string]bool, fallback bool) FrameHandler {
	return func(rc *RelayConn, frame string) {
		job, err := protocol.ParseJob(frame)
		if err != nil {
			return
		}
		ok, listed := results[job.Key]
		if !listed {
			ok = fallback
		}
		_ = rc.Send(protocol.EncodeCompletion(job.Key, ok))
	}
}

// Router returns a FrameHandler that routes like a real relay. Connections
// that send `register` become workers; each client job is forwarded to a
// worker as a request-build frame and the worker's completion is sent back
// to the client that submitted the key. A job arriving while no worker is
// registered fails immediately.
func Router() FrameHandler {
	var (
		mu      sync.Mutex
		workers []*RelayConn
		next    int
		owners  = make(map[string]*RelayConn)
	)
	return func(rc *RelayConn, frame string) {
		switch protocol.Verb(frame) {
		case protocol.VerbRegister:
			mu.Lock()
			workers = append(workers, rc)
			mu.Unlock()

		case protocol.VerbJob:
			job, err := protocol.ParseJob(frame)
			if err != nil {
				return
			}
			mu.Lock()
			var w *RelayConn
			if len(workers) > 0 {
				w = workers[next%len(workers)]
				next++
				owners[job.Key] = rc
			}
			mu.Unlock()
			if w == nil || w.Send(protocol.EncodeRequestBuild(job.Key, job.Payload)) != nil {
				mu.Lock()
				delete(owners, job.Key)
				mu.Unlock()
				_ = rc.Send(protocol.EncodeCompletion(job.Key, false))
			}

		case protocol.VerbComplete:
			c, err := protocol.ParseComplete(frame)
			if err != nil {
				return
			}
			mu.Lock()
			client := owners[c.Key]
			delete(owners, c.Key)
			mu.Unlock()
			if client != nil {
				_ = client.Send(protocol.EncodeCompletion(c.Key, c.Success))
			}
		}
	}
}
