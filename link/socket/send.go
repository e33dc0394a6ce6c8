package socket

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/wire"
)

var ErrNoOrigin = errors.New("socket: envelope has no reply address")

// SendClient writes an assembled frame to the peer. The frame length is
// taken from the encoded header; frames over the configured cap fail
// with wire.ErrTooLarge before any byte is written.
func (l *Link) SendClient(p link.Peer, buf *wire.Buffer, flags link.Flags) error {
	sp, ok := p.(*peer)
	if !ok {
		return link.ErrUnsupported
	}

	data, err := l.frameBytes(buf)
	if err != nil {
		return err
	}

	switch sp.kind {
	case link.KindStream:
		return sendAll(sp.fd, data, flags)
	case link.KindDatagram:
		return unix.Sendto(l.dgramFD, data, sendFlags(flags), sp.addr)
	}
	return link.ErrUnsupported
}

// SendFrame writes a parameterized frame as a gathered write: the first
// vector is the header plus descriptor table, each following vector one
// inline buffer parameter's payload.
func (l *Link) SendFrame(p link.Peer, f *wire.Frame, flags link.Flags) error {
	sp, ok := p.(*peer)
	if !ok {
		return link.ErrUnsupported
	}
	return l.sendFrameFD(sp.fd, sp.addr, sp.kind, f, flags)
}

func (l *Link) sendFrameFD(fd int, addr *unix.SockaddrUnix, kind link.Kind, f *wire.Frame, flags link.Flags) error {
	total := f.EncodedSize()
	if total > l.cfg.MaxMessageSize {
		return wire.ErrTooLarge
	}

	table := make([]byte, wire.HeaderSize+len(f.Params)*wire.DescSize)
	if _, err := f.EncodeTable(table); err != nil {
		return err
	}

	bufs := make([][]byte, 0, 1+len(f.Params))
	bufs = append(bufs, table)
	for i := range f.Params {
		if f.Params[i].Tag == wire.ParamBuffer && len(f.Params[i].Data) > 0 {
			bufs = append(bufs, f.Params[i].Data)
		}
	}

	var (
		n   int
		err error
	)
	switch kind {
	case link.KindStream:
		n, err = unix.Writev(fd, bufs)
	case link.KindDatagram:
		n, err = unix.SendmsgBuffers(l.dgramFD, bufs, nil, addr, sendFlags(flags))
	default:
		return link.ErrUnsupported
	}
	if err != nil {
		return err
	}
	if uint32(n) != total {
		return link.ErrBrokenPipe
	}
	return nil
}

// Respond replies to an envelope whose sender has no client record,
// addressing by the envelope's datagram origin.
func (l *Link) Respond(env *link.Envelope, buf *wire.Buffer) error {
	data, err := l.frameBytes(buf)
	if err != nil {
		return err
	}
	if sa, ok := env.Origin.(*unix.SockaddrUnix); ok && sa != nil {
		return unix.Sendto(l.dgramFD, data, 0, sa)
	}
	if env.Client >= 0 {
		return sendAll(int(env.Client), data, link.Block)
	}
	return ErrNoOrigin
}

// frameBytes slices the encoded frame out of buf and enforces the
// length bounds.
func (l *Link) frameBytes(buf *wire.Buffer) ([]byte, error) {
	if len(buf.Data) < wire.HeaderSize {
		return nil, wire.ErrShortFrame
	}
	total := binary.LittleEndian.Uint32(buf.Data[4:8])
	if total < wire.HeaderSize {
		return nil, wire.ErrShortFrame
	}
	if total > l.cfg.MaxMessageSize {
		return nil, wire.ErrTooLarge
	}
	if total > uint32(len(buf.Data)) {
		return nil, wire.ErrShortFrame
	}
	return buf.Data[:total], nil
}

func sendFlags(flags link.Flags) int {
	if flags&link.Block == 0 {
		return unix.MSG_DONTWAIT
	}
	return 0
}

// sendAll writes data to fd until the frame is fully on the wire. A
// would-block on a non-blocking send leaves a torn frame, so it is
// reported as a broken pipe.
func sendAll(fd int, data []byte, flags link.Flags) error {
	msgFlags := sendFlags(flags)
	sent := 0
	for sent < len(data) {
		n, err := unix.SendmsgN(fd, data[sent:], nil, nil, msgFlags)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return link.ErrBrokenPipe
			}
			return err
		}
		sent += n
	}
	return nil
}
