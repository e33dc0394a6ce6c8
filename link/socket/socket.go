package socket

import (
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/danmuck/wirelink/link"
)

const listenBacklog = 16

var ErrInvalidConfig = errors.New("socket: invalid link configuration")

// Config describes the link's local addresses. An empty address leaves
// that transport kind unsupported; at least one must be set.
type Config struct {
	// StreamAddr is the filesystem path of the stream listener.
	StreamAddr string
	// DatagramAddr is the filesystem path of the shared datagram socket.
	DatagramAddr string
	// MaxMessageSize caps frame length on send and receive.
	MaxMessageSize uint32
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Link is the server side of the socket transport.
type Link struct {
	cfg Config
	lg  zerolog.Logger

	listenFD int
	dgramFD  int

	mu        sync.Mutex
	peers     map[string]link.Conn // datagram sender address -> handle
	nextPeer  link.Conn
	destroyed bool
}

// peer is the link-private state of one client.
type peer struct {
	handle link.Conn
	fd     int                // stream connection descriptor
	addr   *unix.SockaddrUnix // datagram peer address
	kind   link.Kind
}

func (p *peer) Handle() link.Conn { return p.handle }

// NewLink validates the configuration and prepares the link. Sockets
// are not created until Listen.
func NewLink(cfg Config) (*Link, error) {
	if cfg.StreamAddr == "" && cfg.DatagramAddr == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.MaxMessageSize == 0 {
		return nil, ErrInvalidConfig
	}
	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}
	return &Link{
		cfg:      cfg,
		lg:       lg,
		listenFD: -1,
		dgramFD:  -1,
		peers:    make(map[string]link.Conn),
		nextPeer: -2,
	}, nil
}

// Listen creates the listening endpoint for kind and returns its
// descriptor for reactor registration.
func (l *Link) Listen(kind link.Kind) (link.Conn, error) {
	switch kind {
	case link.KindStream:
		if l.cfg.StreamAddr == "" {
			return link.InvalidConn, link.ErrUnsupported
		}
		fd, err := bindSocket(unix.SOCK_STREAM, l.cfg.StreamAddr)
		if err != nil {
			return link.InvalidConn, err
		}
		if err := unix.Listen(fd, listenBacklog); err != nil {
			unix.Close(fd)
			return link.InvalidConn, err
		}
		l.listenFD = fd
		l.lg.Debug().Str("addr", l.cfg.StreamAddr).Msg("socket link: stream listener up")
		return link.Conn(fd), nil

	case link.KindDatagram:
		if l.cfg.DatagramAddr == "" {
			return link.InvalidConn, link.ErrUnsupported
		}
		fd, err := bindSocket(unix.SOCK_DGRAM, l.cfg.DatagramAddr)
		if err != nil {
			return link.InvalidConn, err
		}
		l.dgramFD = fd
		l.lg.Debug().Str("addr", l.cfg.DatagramAddr).Msg("socket link: datagram endpoint up")
		return link.Conn(fd), nil
	}
	return link.InvalidConn, link.ErrUnsupported
}

func bindSocket(sotype int, path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, sotype|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	_ = os.Remove(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept takes the next pending stream connection.
func (l *Link) Accept() (link.Peer, error) {
	fd, _, err := unix.Accept(l.listenFD)
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return &peer{handle: link.Conn(fd), fd: fd, kind: link.KindStream}, nil
}

// handleForAddr maps a datagram sender address to its synthetic handle,
// issuing a fresh one on first contact. Handles are negative so they
// can never collide with stream descriptors.
func (l *Link) handleForAddr(sa *unix.SockaddrUnix) link.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.peers[sa.Name]; ok {
		return h
	}
	h := l.nextPeer
	l.nextPeer--
	l.peers[sa.Name] = h
	return h
}

// CreateClient synthesizes a peer record for a datagram sender first
// seen via a subscribe control message.
func (l *Link) CreateClient(env *link.Envelope) (link.Peer, error) {
	sa, ok := env.Origin.(*unix.SockaddrUnix)
	if !ok || sa == nil {
		return nil, ErrInvalidConfig
	}
	return &peer{handle: env.Client, addr: sa, kind: link.KindDatagram}, nil
}

// DestroyClient releases a peer's transport state.
func (l *Link) DestroyClient(p link.Peer) error {
	sp, ok := p.(*peer)
	if !ok {
		return nil
	}
	switch sp.kind {
	case link.KindStream:
		return unix.Close(sp.fd)
	case link.KindDatagram:
		l.mu.Lock()
		delete(l.peers, sp.addr.Name)
		l.mu.Unlock()
	}
	return nil
}

// Destroy closes the listening endpoints and unlinks their paths.
func (l *Link) Destroy() error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return nil
	}
	l.destroyed = true
	l.mu.Unlock()

	if l.listenFD >= 0 {
		unix.Close(l.listenFD)
		_ = os.Remove(l.cfg.StreamAddr)
	}
	if l.dgramFD >= 0 {
		unix.Close(l.dgramFD)
		_ = os.Remove(l.cfg.DatagramAddr)
	}
	return nil
}

var _ link.Server = (*Link)(nil)
