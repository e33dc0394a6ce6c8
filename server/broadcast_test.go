package server

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	wclient "github.com/danmuck/wirelink/client"
	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/wire"
)

func dialTestDgram(t *testing.T, ts *testServer, name string) *wclient.Client {
	t.Helper()
	c, err := wclient.Connect(wclient.Config{
		Kind:           link.KindDatagram,
		Address:        ts.dgramAddr,
		LocalAddress:   filepath.Join(t.TempDir(), name),
		MaxMessageSize: testMaxMessage,
	})
	if err != nil {
		t.Fatalf("connect dgram: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBroadcastReachesSubscribersOnly(t *testing.T) {
	ts := startTestServer(t, 1)

	c1 := dialTestDgram(t, ts, "c1.sock")
	c2 := dialTestDgram(t, ts, "c2.sock")
	c3 := dialTestDgram(t, ts, "c3.sock")

	// Datagram peers enter the client table through their first
	// subscribe; each one fires OnConnect.
	if err := c1.Subscribe(5); err != nil {
		t.Fatalf("subscribe c1: %v", err)
	}
	waitConn(t, ts.connected)
	if err := c2.Subscribe(5); err != nil {
		t.Fatalf("subscribe c2: %v", err)
	}
	waitConn(t, ts.connected)
	if err := c3.Subscribe(6); err != nil {
		t.Fatalf("subscribe c3: %v", err)
	}
	waitConn(t, ts.connected)

	out := wire.NewBuffer(make([]byte, testMaxMessage))
	if err := out.PrepareHeader(0, 5, 1); err != nil {
		t.Fatalf("prepare header: %v", err)
	}
	out.WriteString("to the subscribers")
	if err := ts.srv.Broadcast(out, link.Block); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for i, c := range []*wclient.Client{c1, c2} {
		got, err := c.Recv(make([]byte, testMaxMessage), link.Block)
		if err != nil {
			t.Fatalf("recv on subscriber %d: %v", i+1, err)
		}
		h, err := wire.DecodeHeader(got.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if h.ID != 0 || h.Protocol != 5 {
			t.Fatalf("unexpected broadcast header: %+v", h)
		}
		got.Index = wire.HeaderSize
		if s := got.ReadString(); s != "to the subscribers" {
			t.Fatalf("payload mismatch on subscriber %d: %q", i+1, s)
		}
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := c3.Recv(make([]byte, testMaxMessage), 0); !errors.Is(err, link.ErrNoData) {
		t.Fatalf("unsubscribed client received data: %v", err)
	}
}

func TestSubscribeAllSentinel(t *testing.T) {
	ts := startTestServer(t, 1)

	c := dialTestDgram(t, ts, "all.sock")
	if err := c.Subscribe(wire.SubscribeAll); err != nil {
		t.Fatalf("subscribe all: %v", err)
	}
	waitConn(t, ts.connected)

	out := wire.NewBuffer(make([]byte, testMaxMessage))
	if err := out.PrepareHeader(0, 123, 1); err != nil {
		t.Fatalf("prepare header: %v", err)
	}
	if err := ts.srv.Broadcast(out, link.Block); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if _, err := c.Recv(make([]byte, testMaxMessage), link.Block); err != nil {
		t.Fatalf("subscriber-to-all missed broadcast: %v", err)
	}

	if err := c.Unsubscribe(wire.SubscribeAll); err != nil {
		t.Fatalf("unsubscribe all: %v", err)
	}
	if got := waitConn(t, ts.disconnected); got >= 0 {
		t.Fatalf("expected synthetic datagram handle, got %d", got)
	}
}

func TestBroadcastSurvivesDeadSubscriber(t *testing.T) {
	ts := startTestServer(t, 1)

	dead := dialTestDgram(t, ts, "dead.sock")
	alive := dialTestDgram(t, ts, "alive.sock")
	if err := dead.Subscribe(5); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitConn(t, ts.connected)
	if err := alive.Subscribe(5); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitConn(t, ts.connected)

	// Close the first subscriber's socket; its table entry lingers and
	// the send to it fails, which must not stop delivery to the rest.
	dead.Close()

	out := wire.NewBuffer(make([]byte, testMaxMessage))
	if err := out.PrepareHeader(0, 5, 1); err != nil {
		t.Fatalf("prepare header: %v", err)
	}
	if err := ts.srv.Broadcast(out, link.Block); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if _, err := alive.Recv(make([]byte, testMaxMessage), link.Block); err != nil {
		t.Fatalf("surviving subscriber missed broadcast: %v", err)
	}
}
