package server

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/wirelink/internal/arena"
	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/reactor"
	"github.com/danmuck/wirelink/wire"
)

const (
	// DefaultMaxMessageSize caps frame length when the configuration
	// leaves it zero.
	DefaultMaxMessageSize = 4096

	// envelopeReserve is headroom added to every slot for envelope and
	// context metadata preceding the payload.
	envelopeReserve = 512

	// arenaSlotsPerWorker sizes the arena region in multi-threaded
	// mode: workers x slot size x this factor.
	arenaSlotsPerWorker = 32

	maxEventsPerWait = 32
)

// Config enumerates the server options.
type Config struct {
	// Link is the transport implementation. Required.
	Link link.Server
	// OnConnect runs after a client enters the table. Optional.
	OnConnect func(link.Conn)
	// OnDisconnect runs after a client leaves the table through a
	// disconnect or an unsubscribe-all. Shutdown releases the clients
	// still in the table without calling it. Optional.
	OnDisconnect func(link.Conn)
	// MaxMessageSize caps frame length; larger frames fail with
	// wire.ErrTooLarge.
	MaxMessageSize uint32
	// Workers greater than one enables the worker pool. Handlers for
	// the same connection may then run concurrently.
	Workers int
	// Reactor, when set, is an externally-owned readiness set the
	// server will use but never destroy.
	Reactor *reactor.Set
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Server is the dispatch core. Construct with New, drive with Run, and
// stop with Shutdown; shutdown is idempotent.
type Server struct {
	lg zerolog.Logger
	lk link.Server

	ops   dispatcher
	pool  *workerPool
	arena *arena.Arena

	sendBuf []byte
	recvBuf []byte

	slotSize       int
	maxMessageSize uint32

	set          *reactor.Set
	ownsReactor  bool
	listenHandle link.Conn
	dgramHandle  link.Conn

	onConnect    func(link.Conn)
	onDisconnect func(link.Conn)

	mu        sync.Mutex // guards protocols and clients
	protocols map[uint8]*Protocol
	clients   map[link.Conn]*client

	metrics *metrics

	running  atomic.Bool
	done     chan struct{}
	downOnce sync.Once
}

// New configures a server over the given link. Allocation failures
// during construction unwind everything built so far.
func New(cfg Config) (*Server, error) {
	if cfg.Link == nil {
		return nil, ErrInvalidConfig
	}

	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}
	maxMessageSize := cfg.MaxMessageSize
	if maxMessageSize == 0 {
		maxMessageSize = DefaultMaxMessageSize
	}

	s := &Server{
		lg:             lg,
		lk:             cfg.Link,
		slotSize:       int(maxMessageSize) + envelopeReserve,
		maxMessageSize: maxMessageSize,
		listenHandle:   link.InvalidConn,
		dgramHandle:    link.InvalidConn,
		onConnect:      cfg.OnConnect,
		onDisconnect:   cfg.OnDisconnect,
		protocols:      make(map[uint8]*Protocol),
		clients:        make(map[link.Conn]*client),
		metrics:        newMetrics(),
		done:           make(chan struct{}),
	}

	if cfg.Reactor != nil {
		s.set = cfg.Reactor
	} else {
		set, err := reactor.NewSet()
		if err != nil {
			return nil, err
		}
		s.set = set
		s.ownsReactor = true
	}

	if cfg.Workers > 1 {
		a, err := arena.New(cfg.Workers*s.slotSize*arenaSlotsPerWorker, s.slotSize)
		if err != nil {
			s.unwind()
			return nil, err
		}
		s.arena = a
		s.pool = newWorkerPool(s, cfg.Workers, s.slotSize)
		s.ops = &mtDispatch{srv: s}
	} else {
		s.sendBuf = make([]byte, s.slotSize)
		s.recvBuf = make([]byte, s.slotSize)
		s.ops = &stDispatch{srv: s}
	}

	if err := s.createEndpoints(); err != nil {
		s.unwind()
		return nil, err
	}

	s.registerControlProtocol()
	return s, nil
}

// createEndpoints brings up the link's listening endpoints. Either
// kind may be unsupported; at least one must come up.
func (s *Server) createEndpoints() error {
	h, err := s.lk.Listen(link.KindStream)
	switch {
	case err == nil:
		if err := s.set.Add(int(h)); err != nil {
			return err
		}
		s.listenHandle = h
	case errors.Is(err, link.ErrUnsupported):
	default:
		return err
	}

	h, err = s.lk.Listen(link.KindDatagram)
	switch {
	case err == nil:
		if err := s.set.Add(int(h)); err != nil {
			return err
		}
		s.dgramHandle = h
	case errors.Is(err, link.ErrUnsupported):
	default:
		return err
	}

	if s.listenHandle == link.InvalidConn && s.dgramHandle == link.InvalidConn {
		return ErrNotSupported
	}
	return nil
}

func (s *Server) unwind() {
	if s.pool != nil {
		s.pool.shutdown()
	}
	if s.ownsReactor && s.set != nil {
		s.set.Close()
	}
}

// Run drives the reactor loop until Shutdown. It performs the final
// teardown before returning.
func (s *Server) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.lg.Info().
		Int("listen", int(s.listenHandle)).
		Int("dgram", int(s.dgramHandle)).
		Msg("server: running")

	events := make([]reactor.Event, maxEventsPerWait)
	for s.running.Load() {
		n, err := s.set.Wait(events)
		if err != nil {
			if s.running.Load() {
				s.lg.Error().Err(err).Msg("server: reactor wait failed")
			}
			break
		}
		for i := 0; i < n; i++ {
			s.HandleEvent(events[i].Handle, events[i].Flags)
		}
	}

	s.running.Store(false)
	s.teardown()
	close(s.done)
	return nil
}

// Shutdown stops the reactor loop and waits for teardown. Safe to call
// more than once, and without Run when the server never started.
func (s *Server) Shutdown() {
	if s.running.CompareAndSwap(true, false) {
		s.set.Wake()
		<-s.done
		return
	}
	s.teardown()
}

// HandleEvent demultiplexes one readiness event by handle. Exported so
// an application driving an external reactor can feed events in.
func (s *Server) HandleEvent(handle int, flags reactor.Flags) {
	h := link.Conn(handle)
	switch h {
	case s.listenHandle:
		s.acceptClient()
	case s.dgramHandle:
		s.drainPackets()
	default:
		if flags&reactor.Disconnect != 0 {
			s.set.Remove(handle)
			s.destroyClient(h)
			return
		}
		s.drainClient(h)
	}
}

func (s *Server) acceptClient() {
	p, err := s.lk.Accept()
	if err != nil {
		s.lg.Warn().Err(err).Msg("server: accept failed")
		return
	}

	c := &client{handle: p.Handle(), peer: p}
	s.mu.Lock()
	s.clients[c.handle] = c
	s.mu.Unlock()

	if err := s.set.Add(int(c.handle)); err != nil {
		s.lg.Error().Err(err).Int("client", int(c.handle)).Msg("server: reactor add failed")
	}
	s.metrics.clientsConnected.Inc()
	if s.onConnect != nil {
		s.onConnect(c.handle)
	}
}

// drainPackets consumes the datagram socket until no message pends.
func (s *Server) drainPackets() {
	for {
		buf := s.ops.inBuffer()
		if buf == nil {
			// Arena exhausted; the level-triggered reactor re-delivers
			// readiness once slots return.
			s.lg.Error().Msg("server: no envelope slots for datagram")
			return
		}
		env, err := s.lk.RecvPacket(buf)
		if err != nil {
			s.ops.putBuffer(buf)
			if !errors.Is(err, link.ErrNoData) {
				s.lg.Warn().Err(err).Msg("server: datagram recv failed")
			}
			return
		}
		env.SetRelease(func() { s.ops.putBuffer(buf) })
		s.metrics.messagesDispatched.Inc()
		s.ops.dispatch(env)
	}
}

// drainClient consumes one stream connection until no message pends.
// Broken frames tear the connection down.
func (s *Server) drainClient(h link.Conn) {
	s.mu.Lock()
	c, ok := s.clients[h]
	s.mu.Unlock()
	if !ok {
		return
	}

	for {
		buf := s.ops.inBuffer()
		if buf == nil {
			s.lg.Error().Int("client", int(h)).Msg("server: no envelope slots for client")
			return
		}
		env, err := s.lk.RecvClient(c.peer, buf)
		if err != nil {
			s.ops.putBuffer(buf)
			if errors.Is(err, link.ErrNoData) {
				return
			}
			s.lg.Warn().Err(err).Int("client", int(h)).Msg("server: client recv failed")
			s.set.Remove(int(h))
			s.destroyClient(h)
			return
		}
		env.SetRelease(func() { s.ops.putBuffer(buf) })
		s.metrics.messagesDispatched.Inc()
		s.ops.dispatch(env)

		// A handler may have detached the client (unsubscribe-all);
		// its descriptor is gone, so stop draining it.
		s.mu.Lock()
		_, ok = s.clients[h]
		s.mu.Unlock()
		if !ok {
			return
		}
	}
}

// destroyClient removes a client from the table, fires OnDisconnect
// exactly once, and releases the link-private state.
func (s *Server) destroyClient(h link.Conn) {
	s.mu.Lock()
	c, ok := s.clients[h]
	if ok {
		delete(s.clients, h)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.metrics.clientsDisconnected.Inc()
	if s.onDisconnect != nil {
		s.onDisconnect(h)
	}
	if err := s.lk.DestroyClient(c.peer); err != nil {
		s.lg.Debug().Err(err).Int("client", int(h)).Msg("server: destroy client")
	}
}

// GetBuffer returns a buffer for composing a server-originated event.
// Single-threaded servers reuse the persistent send buffer; in
// multi-threaded mode each call returns fresh storage, since worker
// scratchpads belong to their workers.
func (s *Server) GetBuffer() *wire.Buffer {
	if s.sendBuf != nil {
		b := wire.NewBuffer(s.sendBuf)
		b.Reset()
		return b
	}
	return wire.NewBuffer(make([]byte, s.slotSize))
}

// Respond sends a reply to the envelope's originator, echoing the
// request's message id.
func (s *Server) Respond(env *link.Envelope, out *wire.Buffer) error {
	if env == nil || out == nil {
		return ErrInvalidConfig
	}
	if err := out.Err(); err != nil {
		return err
	}
	out.SetID(wire.NewBuffer(env.Data).ID())
	out.SetLength(uint32(out.Index))

	s.mu.Lock()
	c, ok := s.clients[env.Client]
	s.mu.Unlock()
	if !ok {
		return s.lk.Respond(env, out)
	}
	return s.lk.SendClient(c.peer, out, link.Block)
}

// SendEvent sends an event to one specific client, bypassing
// subscriptions. Events carry message id zero.
func (s *Server) SendEvent(h link.Conn, out *wire.Buffer, flags link.Flags) error {
	if err := out.Err(); err != nil {
		return err
	}
	out.SetID(0)
	out.SetLength(uint32(out.Index))

	s.mu.Lock()
	c, ok := s.clients[h]
	s.mu.Unlock()
	if !ok {
		return ErrNoClient
	}
	return s.lk.SendClient(c.peer, out, flags)
}

// Broadcast delivers an event to every client subscribed to the
// frame's protocol. A failed send to one client does not abort the
// broadcast.
func (s *Server) Broadcast(out *wire.Buffer, flags link.Flags) error {
	if err := out.Err(); err != nil {
		return err
	}
	out.SetID(0)
	out.SetLength(uint32(out.Index))
	protocol := out.Data[8]

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.subscribed(protocol) {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := s.lk.SendClient(c.peer, out, flags); err != nil {
			s.lg.Debug().Err(err).Int("client", int(c.handle)).Msg("server: broadcast send failed")
			continue
		}
		s.metrics.broadcastSends.Inc()
	}
	return nil
}

// teardown unwinds everything once: clients, reactor (when owned),
// workers, tables, buffers, link.
func (s *Server) teardown() {
	s.downOnce.Do(func() {
		s.mu.Lock()
		clients := make([]*client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.clients = make(map[link.Conn]*client)
		s.mu.Unlock()
		for _, c := range clients {
			s.lk.DestroyClient(c.peer)
		}

		if s.ownsReactor {
			s.set.Close()
		}
		if s.pool != nil {
			s.pool.shutdown()
		}

		s.mu.Lock()
		s.protocols = make(map[uint8]*Protocol)
		s.mu.Unlock()

		s.lk.Destroy()
		s.lg.Info().Msg("server: shut down")
	})
}

// ListenHandle returns the stream listener's handle, or
// link.InvalidConn when streams are unsupported.
func (s *Server) ListenHandle() link.Conn { return s.listenHandle }

// DgramHandle returns the datagram endpoint's handle, or
// link.InvalidConn when datagrams are unsupported.
func (s *Server) DgramHandle() link.Conn { return s.dgramHandle }

// Reactor returns the readiness set driving the server.
func (s *Server) Reactor() *reactor.Set { return s.set }
