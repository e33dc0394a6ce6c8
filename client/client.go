package client

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/wire"
)

var (
	ErrInvalidConfig   = errors.New("client: invalid configuration")
	ErrClosed          = errors.New("client: connection closed")
	ErrRemoteNoHandler = errors.New("client: no handler registered for request")
	ErrRemoteRejected  = errors.New("client: request rejected by server")
)

// Config describes one client connection.
type Config struct {
	// Kind selects stream or datagram transport.
	Kind link.Kind
	// Address is the server's socket path.
	Address string
	// LocalAddress is the client's own socket path. Required for
	// datagram clients, which must bind to receive replies and events.
	LocalAddress string
	// MaxMessageSize caps frame length on send and receive.
	MaxMessageSize uint32
	// OnEvent receives frames that are not the response a Call is
	// waiting for (server events, broadcasts). Control error events are
	// not passed to it. Optional.
	OnEvent func(h wire.Header, in *wire.Buffer)
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Client is one connection to a server.
type Client struct {
	cfg Config
	lg  zerolog.Logger
	fd  int

	ids    atomic.Uint32
	sendMu sync.Mutex
	recvMu sync.Mutex
	closed atomic.Bool
}

// Connect opens the socket and connects it to the server address.
func Connect(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.Kind == link.KindDatagram && cfg.LocalAddress == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 4096
	}
	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}

	sotype := unix.SOCK_STREAM
	if cfg.Kind == link.KindDatagram {
		sotype = unix.SOCK_DGRAM
	}
	fd, err := unix.Socket(unix.AF_UNIX, sotype|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if cfg.Kind == link.KindDatagram {
		_ = os.Remove(cfg.LocalAddress)
		if err := unix.Bind(fd, &unix.SockaddrUnix{Name: cfg.LocalAddress}); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: cfg.Address}); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Client{cfg: cfg, lg: lg, fd: fd}, nil
}

// NextID allocates a message id unique to this sender.
func (c *Client) NextID() uint32 {
	return c.ids.Add(1)
}

// Send writes a parameterized frame as a gathered write: header plus
// descriptor table first, then each inline buffer parameter. Frames
// over the size cap fail with wire.ErrTooLarge before any byte is
// written.
func (c *Client) Send(f *wire.Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	total := f.EncodedSize()
	if total > c.cfg.MaxMessageSize {
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

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	n, err := unix.Writev(c.fd, bufs)
	if err != nil {
		return err
	}
	if uint32(n) != total {
		return link.ErrBrokenPipe
	}
	return nil
}

// SendBuffer writes an already-assembled frame. The length field is
// stamped from the buffer's cursor before sending; requests are
// usually built with NewRequest.
func (c *Client) SendBuffer(b *wire.Buffer) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := b.Err(); err != nil {
		return err
	}
	b.SetLength(uint32(b.Index))
	data := b.Data[:b.Index]
	if uint32(len(data)) > c.cfg.MaxMessageSize {
		return wire.ErrTooLarge
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	sent := 0
	for sent < len(data) {
		n, err := unix.SendmsgN(c.fd, data[sent:], nil, nil, 0)
		if err != nil {
			return err
		}
		sent += n
	}
	return nil
}

// Recv reads the next frame into buf. Stream connections read the
// header then exactly the declared remainder; datagram reads are
// atomic. Without link.Block an empty socket yields link.ErrNoData.
func (c *Client) Recv(buf []byte, flags link.Flags) (*wire.Buffer, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if c.cfg.Kind == link.KindDatagram {
		return c.recvPacket(buf, flags)
	}
	return c.recvStream(buf, flags)
}

func (c *Client) recvStream(buf []byte, flags link.Flags) (*wire.Buffer, error) {
	probe := unix.MSG_WAITALL
	if flags&link.Block == 0 {
		probe = unix.MSG_DONTWAIT
	}
	n, _, err := unix.Recvfrom(c.fd, buf[:wire.HeaderSize], probe)
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
		m, _, err := unix.Recvfrom(c.fd, buf[n:wire.HeaderSize], unix.MSG_WAITALL)
		if err != nil || n+m != wire.HeaderSize {
			return nil, link.ErrBrokenPipe
		}
	}

	h, err := wire.DecodeHeader(buf[:wire.HeaderSize])
	if err != nil {
		return nil, link.ErrBrokenPipe
	}
	if err := wire.ValidateLength(h, c.cfg.MaxMessageSize); err != nil {
		return nil, err
	}
	if h.Length > uint32(len(buf)) {
		return nil, wire.ErrTooLarge
	}
	if remainder := int(h.Length) - wire.HeaderSize; remainder > 0 {
		m, _, err := unix.Recvfrom(c.fd, buf[wire.HeaderSize:h.Length], unix.MSG_WAITALL)
		if err != nil || m != remainder {
			return nil, link.ErrBrokenPipe
		}
	}
	return wire.NewBuffer(buf[:h.Length]), nil
}

func (c *Client) recvPacket(buf []byte, flags link.Flags) (*wire.Buffer, error) {
	msgFlags := 0
	if flags&link.Block == 0 {
		msgFlags = unix.MSG_DONTWAIT
	}
	n, _, err := unix.Recvfrom(c.fd, buf, msgFlags)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, link.ErrNoData
		}
		return nil, err
	}
	if n < wire.HeaderSize {
		return nil, link.ErrNoData
	}
	h, err := wire.DecodeHeader(buf[:n])
	if err != nil || h.Length > uint32(n) {
		return nil, link.ErrBrokenPipe
	}
	if err := wire.ValidateLength(h, c.cfg.MaxMessageSize); err != nil {
		return nil, err
	}
	return wire.NewBuffer(buf[:h.Length]), nil
}

// Call sends a request and blocks until the response with the matching
// id arrives. A control error event naming the request's id ends the
// call with an error; control error events about other requests are
// dropped, and other frames received in between go to OnEvent when set.
func (c *Client) Call(req *wire.Buffer, recvBuf []byte) (*wire.Buffer, error) {
	id := req.ID()
	if err := c.SendBuffer(req); err != nil {
		return nil, err
	}
	for {
		resp, err := c.Recv(recvBuf, link.Block)
		if err != nil {
			return nil, err
		}
		h, err := wire.DecodeHeader(resp.Data)
		if err != nil {
			return nil, err
		}
		if h.ID == id {
			resp.Index = wire.HeaderSize
			return resp, nil
		}
		if h.Protocol == wire.ControlProtocol && h.Action == wire.ControlError {
			resp.Index = wire.HeaderSize
			ev, err := wire.DecodeControlError(resp)
			if err == nil && ev.MessageID == id {
				if ev.Code == wire.ControlCodeNoHandler {
					return nil, ErrRemoteNoHandler
				}
				return nil, ErrRemoteRejected
			}
			continue
		}
		if c.cfg.OnEvent != nil {
			resp.Index = wire.HeaderSize
			c.cfg.OnEvent(h, resp)
			continue
		}
		c.lg.Debug().Uint32("id", h.ID).Msg("client: dropped unsolicited frame")
	}
}

// NewRequest prepares an outgoing frame in storage with a fresh
// message id and the cursor past the header.
func (c *Client) NewRequest(storage []byte, protocol, action uint8) (*wire.Buffer, error) {
	b := wire.NewBuffer(storage)
	if err := b.PrepareHeader(c.NextID(), protocol, action); err != nil {
		return nil, err
	}
	return b, nil
}

// Subscribe registers this client for broadcasts of the protocol.
func (c *Client) Subscribe(protocol uint8) error {
	var storage [wire.HeaderSize + 1]byte
	b, err := c.NewRequest(storage[:], wire.ControlProtocol, wire.ControlSubscribe)
	if err != nil {
		return err
	}
	b.WriteU8(protocol)
	return c.SendBuffer(b)
}

// Unsubscribe clears this client's subscription. Passing
// wire.SubscribeAll detaches the client from the server entirely.
func (c *Client) Unsubscribe(protocol uint8) error {
	var storage [wire.HeaderSize + 1]byte
	b, err := c.NewRequest(storage[:], wire.ControlProtocol, wire.ControlUnsubscribe)
	if err != nil {
		return err
	}
	b.WriteU8(protocol)
	return c.SendBuffer(b)
}

// Close releases the socket. Safe to call twice.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(c.fd)
	if c.cfg.Kind == link.KindDatagram && c.cfg.LocalAddress != "" {
		_ = os.Remove(c.cfg.LocalAddress)
	}
	return err
}
