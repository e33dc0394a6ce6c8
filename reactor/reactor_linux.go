//go:build linux

package reactor

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Set is an epoll-backed readiness set. An eventfd is registered
// alongside the watched handles so Wake can interrupt a blocked Wait.
type Set struct {
	epfd   int
	wakefd int
	closed atomic.Bool
}

// NewSet creates the epoll instance and its wakeup eventfd.
func NewSet() (*Set, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	s := &Set{epfd: epfd, wakefd: wakefd}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Add registers a handle for In and Disconnect notifications,
// level-triggered.
func (s *Set) Add(handle int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(handle),
	}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, handle, &ev)
}

// Remove drops a handle from the set.
func (s *Set) Remove(handle int) error {
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, handle, nil)
}

// Wait blocks until at least one event is available or Wake is called.
// A wakeup drains the eventfd and may return zero events.
func (s *Set) Wait(events []Event) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	for {
		n, err := unix.EpollWait(s.epfd, raw, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if s.closed.Load() {
				return 0, ErrClosed
			}
			return 0, err
		}

		out := 0
		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			if fd == s.wakefd {
				var drain [8]byte
				unix.Read(s.wakefd, drain[:])
				continue
			}
			var flags Flags
			if raw[i].Events&unix.EPOLLIN != 0 {
				flags |= In
			}
			if raw[i].Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				flags |= Disconnect
			}
			events[out] = Event{Handle: fd, Flags: flags}
			out++
		}
		return out, nil
	}
}

// Wake interrupts a blocked Wait.
func (s *Set) Wake() error {
	var one = [8]byte{1}
	_, err := unix.Write(s.wakefd, one[:])
	return err
}

// Close releases the epoll instance and the wakeup eventfd.
func (s *Set) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(s.wakefd)
	return unix.Close(s.epfd)
}
