package link

import (
	"github.com/danmuck/wirelink/wire"
)

// Conn is a connection handle. Stream clients use the accepted socket
// descriptor; datagram peers get synthetic negative handles issued by
// the link. The client table and the link reference each other only
// through this integer.
type Conn int

// InvalidConn is the zero-value-adjacent "no connection" handle.
const InvalidConn Conn = -1

// Kind selects one of the two transport modes a link may provide.
type Kind int

const (
	KindStream Kind = iota
	KindDatagram
)

// Flags modify send and recv behavior.
type Flags uint32

const (
	// Block makes the operation wait for completion instead of
	// returning ErrNoData/partial progress.
	Block Flags = 1 << iota
)

// Envelope wraps one received frame with its origin. Ownership is
// linear: the receive path hands the envelope to exactly one consumer,
// and that consumer releases it exactly once.
type Envelope struct {
	// Client is the originating connection handle.
	Client Conn
	// Origin is link-private sender state (datagram peer address).
	Origin any
	// Data is the full frame, header at offset zero.
	Data []byte
	// Index is the payload cursor used by handlers.
	Index int

	release  func()
	released bool
}

// SetRelease arranges for fn to run on Release. Used by the server to
// tie an envelope to its arena slot.
func (e *Envelope) SetRelease(fn func()) {
	e.release = fn
}

// Release returns the envelope's backing storage. The second and later
// calls are no-ops; the balanced-free invariant is asserted in tests.
func (e *Envelope) Release() {
	if e.released {
		return
	}
	e.released = true
	if e.release != nil {
		e.release()
	}
}

// Peer is the link-private state of one connected client.
type Peer interface {
	// Handle returns the connection handle the peer is keyed by.
	Handle() Conn
}

// Server is the server side of a transport link. At least one of the
// two Listen kinds must succeed; an unsupported kind fails with
// ErrUnsupported.
type Server interface {
	// Listen creates the listening endpoint of the given kind and
	// returns the OS handle to register with the reactor.
	Listen(kind Kind) (Conn, error)

	// Accept takes the next pending stream connection. Only valid after
	// the listen handle reported readiness.
	Accept() (Peer, error)

	// RecvPacket reads one atomic datagram frame into buf. Fewer bytes
	// than a frame header pending yields ErrNoData.
	RecvPacket(buf []byte) (*Envelope, error)

	// RecvClient reads one stream frame from the peer into buf: the
	// fixed header first, then exactly the declared remainder. A short
	// payload read is fatal for the connection (ErrBrokenPipe).
	RecvClient(p Peer, buf []byte) (*Envelope, error)

	// SendClient writes the assembled frame in buf to the peer. The
	// frame is written in full or the call fails; frames larger than
	// the link's max message size fail with wire.ErrTooLarge before
	// any byte is written.
	SendClient(p Peer, buf *wire.Buffer, flags Flags) error

	// SendFrame writes a parameterized frame to the peer as a gathered
	// write: one vector for header plus descriptor table, then one per
	// inline buffer parameter.
	SendFrame(p Peer, f *wire.Frame, flags Flags) error

	// Respond replies to an envelope whose sender has no client record,
	// addressing by the envelope's origin.
	Respond(env *Envelope, buf *wire.Buffer) error

	// CreateClient synthesizes a peer record for a datagram sender
	// first seen through a subscribe control message.
	CreateClient(env *Envelope) (Peer, error)

	// DestroyClient releases the peer's transport state.
	DestroyClient(p Peer) error

	// Destroy releases the link's listening endpoints.
	Destroy() error
}
