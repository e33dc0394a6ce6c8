package server

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	wclient "github.com/danmuck/wirelink/client"
	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/link/socket"
	"github.com/danmuck/wirelink/reactor"
	"github.com/danmuck/wirelink/wire"
)

const testMaxMessage = 1024

type testServer struct {
	srv          *Server
	streamAddr   string
	dgramAddr    string
	connected    chan link.Conn
	disconnected chan link.Conn
}

func startTestServer(t *testing.T, workers int) *testServer {
	t.Helper()
	dir := t.TempDir()
	ts := &testServer{
		streamAddr:   filepath.Join(dir, "s.sock"),
		dgramAddr:    filepath.Join(dir, "d.sock"),
		connected:    make(chan link.Conn, 64),
		disconnected: make(chan link.Conn, 64),
	}

	lk, err := socket.NewLink(socket.Config{
		StreamAddr:     ts.streamAddr,
		DatagramAddr:   ts.dgramAddr,
		MaxMessageSize: testMaxMessage,
	})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}

	srv, err := New(Config{
		Link:           lk,
		MaxMessageSize: testMaxMessage,
		Workers:        workers,
		OnConnect:      func(h link.Conn) { ts.connected <- h },
		OnDisconnect:   func(h link.Conn) { ts.disconnected <- h },
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts.srv = srv

	go srv.Run()
	t.Cleanup(srv.Shutdown)
	return ts
}

func dialTestStream(t *testing.T, ts *testServer) *wclient.Client {
	t.Helper()
	c, err := wclient.Connect(wclient.Config{
		Kind:           link.KindStream,
		Address:        ts.streamAddr,
		MaxMessageSize: testMaxMessage,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitConn(t *testing.T, ch chan link.Conn) link.Conn {
	t.Helper()
	select {
	case h := <-ch:
		return h
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connection callback")
		return link.InvalidConn
	}
}

func registerEcho(t *testing.T, srv *Server, protocol, action uint8, invoked *atomic.Int64) {
	t.Helper()
	err := srv.RegisterProtocol(NewProtocol(protocol, map[uint8]Handler{
		action: func(call *Call, in *wire.Buffer) {
			if invoked != nil {
				invoked.Add(1)
			}
			payload := in.ReadBytes()
			out := call.Reply()
			out.WriteBytes(payload)
			if err := call.Respond(out); err != nil {
				t.Errorf("respond: %v", err)
			}
		},
	}))
	if err != nil {
		t.Fatalf("register protocol: %v", err)
	}
}

func TestStreamRequestResponse(t *testing.T) {
	ts := startTestServer(t, 1)
	var invoked atomic.Int64
	registerEcho(t, ts.srv, 7, 3, &invoked)

	c := dialTestStream(t, ts)
	waitConn(t, ts.connected)

	req, err := c.NewRequest(make([]byte, testMaxMessage), 7, 3)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	reqID := req.ID()
	req.WriteBytes([]byte("ping"))

	resp, err := c.Call(req, make([]byte, testMaxMessage))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	h, err := wire.DecodeHeader(resp.Data)
	if err != nil {
		t.Fatalf("decode response header: %v", err)
	}
	if h.ID != reqID {
		t.Fatalf("response id mismatch: got=%d want=%d", h.ID, reqID)
	}
	if h.Protocol != 7 || h.Action != 3 {
		t.Fatalf("response routing mismatch: %+v", h)
	}
	if got := string(resp.ReadBytes()); got != "ping" {
		t.Fatalf("payload mismatch: %q", got)
	}
	if invoked.Load() != 1 {
		t.Fatalf("handler invoked %d times", invoked.Load())
	}
}

func TestUnknownActionReportsToSender(t *testing.T) {
	ts := startTestServer(t, 1)
	c := dialTestStream(t, ts)
	waitConn(t, ts.connected)

	req, err := c.NewRequest(make([]byte, testMaxMessage), 9, 1)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	_, err = c.Call(req, make([]byte, testMaxMessage))
	if !errors.Is(err, wclient.ErrRemoteNoHandler) {
		t.Fatalf("expected ErrRemoteNoHandler, got %v", err)
	}
}

func TestUnsubscribeAllDetachesClient(t *testing.T) {
	ts := startTestServer(t, 1)
	c := dialTestStream(t, ts)
	h := waitConn(t, ts.connected)

	if err := c.Unsubscribe(wire.SubscribeAll); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if got := waitConn(t, ts.disconnected); got != h {
		t.Fatalf("disconnect handle mismatch: got=%d want=%d", got, h)
	}

	out := ts.srv.GetBuffer()
	if err := out.PrepareHeader(0, 5, 1); err != nil {
		t.Fatalf("prepare header: %v", err)
	}
	if err := ts.srv.SendEvent(h, out, link.Block); !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
}

func TestDisconnectFiresCallbackOnce(t *testing.T) {
	ts := startTestServer(t, 1)
	c := dialTestStream(t, ts)
	h := waitConn(t, ts.connected)

	c.Close()
	if got := waitConn(t, ts.disconnected); got != h {
		t.Fatalf("disconnect handle mismatch: got=%d want=%d", got, h)
	}
	select {
	case extra := <-ts.disconnected:
		t.Fatalf("second disconnect callback for %d", extra)
	case <-time.After(200 * time.Millisecond):
	}

	out := ts.srv.GetBuffer()
	if err := out.PrepareHeader(0, 5, 1); err != nil {
		t.Fatalf("prepare header: %v", err)
	}
	if err := ts.srv.SendEvent(h, out, link.Block); !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient after disconnect, got %v", err)
	}
}

func TestSendEventToSubscribedAndNot(t *testing.T) {
	ts := startTestServer(t, 1)
	c := dialTestStream(t, ts)
	h := waitConn(t, ts.connected)

	// Target-specific events ignore subscriptions entirely.
	out := ts.srv.GetBuffer()
	if err := out.PrepareHeader(0, 5, 2); err != nil {
		t.Fatalf("prepare header: %v", err)
	}
	out.WriteString("direct")
	if err := ts.srv.SendEvent(h, out, link.Block); err != nil {
		t.Fatalf("send event: %v", err)
	}

	got, err := c.Recv(make([]byte, testMaxMessage), link.Block)
	if err != nil {
		t.Fatalf("recv event: %v", err)
	}
	eh, err := wire.DecodeHeader(got.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if eh.ID != 0 {
		t.Fatalf("events must carry id 0, got %d", eh.ID)
	}
	got.Index = wire.HeaderSize
	if s := got.ReadString(); s != "direct" {
		t.Fatalf("event payload mismatch: %q", s)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	ts := startTestServer(t, 1)
	c := dialTestStream(t, ts)
	waitConn(t, ts.connected)
	_ = c

	ts.srv.Shutdown()
	ts.srv.Shutdown()
}

func TestRegisterProtocolRejectsControlID(t *testing.T) {
	ts := startTestServer(t, 1)
	err := ts.srv.RegisterProtocol(NewProtocol(wire.ControlProtocol, nil))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	// The control protocol itself survives unregister attempts.
	ts.srv.UnregisterProtocol(wire.ControlProtocol)
	if ts.srv.lookupAction(wire.ControlProtocol, wire.ControlSubscribe) == nil {
		t.Fatalf("control protocol went missing")
	}
}

func TestExternalReactorSurvivesShutdown(t *testing.T) {
	set, err := reactor.NewSet()
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	defer set.Close()

	lk, err := socket.NewLink(socket.Config{
		StreamAddr:     filepath.Join(t.TempDir(), "ext.sock"),
		MaxMessageSize: testMaxMessage,
	})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	srv, err := New(Config{Link: lk, MaxMessageSize: testMaxMessage, Reactor: set})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv.Shutdown()

	// The externally-provided set is still usable afterwards.
	if err := set.Wake(); err != nil {
		t.Fatalf("external reactor destroyed by server shutdown: %v", err)
	}
}

func TestNewRequiresLink(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
