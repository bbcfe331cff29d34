package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// MessageEvent is the Socket.IO event that carries protocol frames.
const MessageEvent = "message"

// SocketIODialer opens Socket.IO connections to one namespace. Each
// protocol frame travels as the single string argument of a "message"
// event.
type SocketIODialer struct {
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Dial implements Dialer. The URL's scheme and host select the server and
// its path selects the Socket.IO endpoint, usually "/socket.io/".
func (d *SocketIODialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if d.InsecureSkipVerify {
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	// Conn owns reconnection.
	opts.SetReconnection(false)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	client := manager.Socket(d.Namespace, opts)

	t := &socketIOTransport{
		client: client,
		inbox:  make(chan string, 64),
		closed: make(chan struct{}),
	}

	connectChan := make(chan error, 1)
	client.Once(types.EventName("connect"), func(...any) {
		select {
		case connectChan <- nil:
		default:
		}
	})
	client.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})
	client.On(types.EventName(MessageEvent), func(args ...any) {
		if len(args) == 0 {
			return
		}
		frame, ok := args[0].(string)
		if !ok {
			return
		}
		select {
		case t.inbox <- frame:
		case <-t.closed:
		}
	})
	client.On(types.EventName("disconnect"), func(...any) {
		t.markClosed()
	})

	client.Connect()

	timeout := d.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-connectChan:
		if err != nil {
			t.disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return t, nil
	case <-ctx.Done():
		t.disconnect()
		return nil, ctx.Err()
	case <-timer.C:
		t.disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

type socketIOTransport struct {
	client        *socket.Socket
	inbox         chan string
	closed        chan struct{}
	closeOnce     sync.Once
	disconnecting atomic.Bool
}

// markClosed ends ReadText. It never calls into the socket, so socket
// event listeners may use it.
func (t *socketIOTransport) markClosed() {
	t.closeOnce.Do(func() { close(t.closed) })
}

// disconnect closes the socket once. The client emits "disconnect"
// synchronously from Disconnect, which re-enters markClosed.
func (t *socketIOTransport) disconnect() {
	if t.disconnecting.CompareAndSwap(false, true) {
		t.client.Disconnect()
	}
	t.markClosed()
}

func (t *socketIOTransport) WriteText(text string) error {
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	return t.client.Emit(MessageEvent, text)
}

func (t *socketIOTransport) ReadText() (string, error) {
	select {
	case frame := <-t.inbox:
		return frame, nil
	case <-t.closed:
		select {
		case frame := <-t.inbox:
			return frame, nil
		default:
			return "", io.EOF
		}
	}
}

func (t *socketIOTransport) Shutdown() error {
	t.disconnect()
	return nil
}

func (t *socketIOTransport) Close() error {
	t.disconnect()
	return nil
}
