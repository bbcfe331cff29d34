package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zishang520/socket.io/v2/socket"
)

// SocketIONamespaces are the namespaces a Socket.IO relay serves.
var SocketIONamespaces = []string{"/client", "/worker"}

// NewSocketIORelay starts a Relay that speaks Socket.IO on /socket.io/.
// Every frame travels as the single string argument of a "message" event,
// and RelayConn.Path is the namespace the peer joined. Dials counts
// accepted sockets plus rejected handshake requests.
func NewSocketIORelay(t *testing.T, handler FrameHandler) *Relay {
	t.Helper()
	r := &Relay{t: t, handler: handler}

	server := socket.NewServer(nil, nil)
	for _, nsp := range SocketIONamespaces {
		server.Of(nsp, nil).On("connection", r.acceptSocketIO(nsp))
	}

	engine := server.ServeHandler(nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/socket.io/", func(w http.ResponseWriter, req *http.Request) {
		if r.reject.Load() {
			r.mu.Lock()
			r.dials++
			r.mu.Unlock()
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		engine.ServeHTTP(w, req)
	})

	r.server = httptest.NewServer(mux)
	r.onClose = func() { server.Close(nil) }
	t.Cleanup(r.Close)
	return r
}

// SocketIOURL returns the Socket.IO endpoint of a relay built with
// NewSocketIORelay.
func (r *Relay) SocketIOURL() string {
	return r.server.URL + "/socket.io/"
}

func (r *Relay) acceptSocketIO(nsp string) func(...any) {
	return func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		rc := &RelayConn{
			Path: nsp,
			send: func(frame string) error { return client.Emit("message", frame) },
			drop: func() { client.Disconnect(true) },
		}
		r.mu.Lock()
		r.dials++
		r.mu.Unlock()
		r.accept(rc)

		client.On("message", func(args ...any) {
			if len(args) == 0 {
				return
			}
			frame, ok := args[0].(string)
			if !ok {
				return
			}
			r.receive(rc, frame)
		})
	}
}
