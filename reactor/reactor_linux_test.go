//go:build linux

package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func TestWaitReportsReadable(t *testing.T) {
	s, err := NewSet()
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	defer s.Close()

	a, b := socketPair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	if err := s.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := unix.Write(a, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := make([]Event, 8)
	n, err := s.Wait(events)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 || events[0].Handle != b {
		t.Fatalf("unexpected events: n=%d %+v", n, events[:n])
	}
	if events[0].Flags&In == 0 {
		t.Fatalf("expected In flag, got %v", events[0].Flags)
	}
}

func TestWaitReportsDisconnect(t *testing.T) {
	s, err := NewSet()
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	defer s.Close()

	a, b := socketPair(t)
	defer unix.Close(b)

	if err := s.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	unix.Close(a)

	events := make([]Event, 8)
	n, err := s.Wait(events)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 || events[0].Flags&Disconnect == 0 {
		t.Fatalf("expected disconnect, got n=%d %+v", n, events[:n])
	}
}

func TestWakeInterruptsWait(t *testing.T) {
	s, err := NewSet()
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	defer s.Close()

	done := make(chan struct{})
	go func() {
		events := make([]Event, 4)
		n, err := s.Wait(events)
		if err != nil || n != 0 {
			t.Errorf("wait after wake: n=%d err=%v", n, err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Wake(); err != nil {
		t.Fatalf("wake: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("wait did not return after wake")
	}
}

func TestRemoveStopsDelivery(t *testing.T) {
	s, err := NewSet()
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	defer s.Close()

	a, b := socketPair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	if err := s.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Remove(b); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := unix.Write(a, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		events := make([]Event, 4)
		n, _ := s.Wait(events)
		done <- n
	}()
	time.Sleep(20 * time.Millisecond)
	s.Wake()
	if n := <-done; n != 0 {
		t.Fatalf("removed handle still delivered %d events", n)
	}
}
