package socket

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/wire"
)

// RecvPacket reads one atomic datagram frame into buf. Packets are
// atomic: either a full frame is pending or none is, so no wait-all.
func (l *Link) RecvPacket(buf []byte) (*link.Envelope, error) {
	n, _, recvflags, from, err := unix.Recvmsg(l.dgramFD, buf, nil, unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, link.ErrNoData
		}
		return nil, err
	}
	if n < wire.HeaderSize {
		return nil, link.ErrNoData
	}
	if recvflags&unix.MSG_TRUNC != 0 {
		return nil, wire.ErrTooLarge
	}

	h, err := wire.DecodeHeader(buf[:n])
	if err != nil {
		return nil, link.ErrBrokenPipe
	}
	if err := wire.ValidateLength(h, l.cfg.MaxMessageSize); err != nil {
		if errors.Is(err, wire.ErrTooLarge) {
			return nil, wire.ErrTooLarge
		}
		return nil, link.ErrBrokenPipe
	}
	if h.Length > uint32(n) {
		return nil, link.ErrBrokenPipe
	}

	sa, _ := from.(*unix.SockaddrUnix)
	env := &link.Envelope{
		Data: buf[:h.Length],
	}
	if sa != nil {
		env.Client = l.handleForAddr(sa)
		env.Origin = sa
	} else {
		env.Client = link.InvalidConn
	}
	return env, nil
}

// RecvClient reads one stream frame from the peer in two phases: the
// fixed header, then exactly the declared remainder with wait-all
// semantics. A zero read on the header means nothing is pending; a
// short read anywhere later leaves a broken frame on the stream and is
// fatal for the connection.
func (l *Link) RecvClient(p link.Peer, buf []byte) (*link.Envelope, error) {
	sp, ok := p.(*peer)
	if !ok || sp.kind != link.KindStream {
		return nil, link.ErrUnsupported
	}

	n, _, err := unix.Recvfrom(sp.fd, buf[:wire.HeaderSize], unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, link.ErrNoData
		}
		return nil, err
	}
	if n == 0 {
		return nil, link.ErrNoData
	}
	if n < wire.HeaderSize {
		m, _, err := unix.Recvfrom(sp.fd, buf[n:wire.HeaderSize], unix.MSG_WAITALL)
		if err != nil || n+m != wire.HeaderSize {
			return nil, link.ErrBrokenPipe
		}
	}

	h, err := wire.DecodeHeader(buf[:wire.HeaderSize])
	if err != nil {
		return nil, link.ErrBrokenPipe
	}
	if h.Length < wire.HeaderSize {
		return nil, link.ErrBrokenPipe
	}
	if h.Length > l.cfg.MaxMessageSize || h.Length > uint32(len(buf)) {
		// The remainder cannot be resynchronized once the declared
		// length is untrustworthy; the connection is torn down.
		return nil, wire.ErrTooLarge
	}

	if remainder := int(h.Length) - wire.HeaderSize; remainder > 0 {
		m, _, err := unix.Recvfrom(sp.fd, buf[wire.HeaderSize:h.Length], unix.MSG_WAITALL)
		if err != nil || m != remainder {
			return nil, link.ErrBrokenPipe
		}
	}

	return &link.Envelope{
		Client: sp.handle,
		Data:   buf[:h.Length],
	}, nil
}
