package server

import (
	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/wire"
)

// dispatcher selects the dispatch strategy at construction time:
// inline on the reactor goroutine with static buffers, or queued to
// the worker pool with arena-backed envelopes.
type dispatcher interface {
	// inBuffer provides storage for the next received frame, or nil
	// when none is available.
	inBuffer() []byte
	// putBuffer returns storage the receive path failed to fill.
	putBuffer(buf []byte)
	// dispatch consumes an envelope. Ownership transfers here.
	dispatch(env *link.Envelope)
}

// stDispatch runs handlers synchronously on the reactor goroutine,
// reusing one receive and one send buffer for the server's lifetime.
type stDispatch struct {
	srv *Server
}

func (d *stDispatch) inBuffer() []byte { return d.srv.recvBuf }

func (d *stDispatch) putBuffer(buf []byte) {}

func (d *stDispatch) dispatch(env *link.Envelope) {
	d.srv.invoke(env, d.srv.sendBuf)
	env.Release()
}

// mtDispatch allocates one arena slot per received frame and hands the
// envelope to the worker pool. The slot is freed by the worker after
// the handler returns, or by putBuffer when the receive fails.
type mtDispatch struct {
	srv *Server
}

func (d *mtDispatch) inBuffer() []byte {
	return d.srv.arena.Allocate()
}

func (d *mtDispatch) putBuffer(buf []byte) {
	d.srv.arena.Free(buf)
}

func (d *mtDispatch) dispatch(env *link.Envelope) {
	d.srv.pool.dispatch(env)
}

// Call carries one dispatched message through its handler: the
// envelope, the server, and the outgoing scratch buffer assigned by
// the dispatch strategy.
type Call struct {
	srv *Server
	env *link.Envelope
	out []byte
}

// Client returns the originating connection handle.
func (c *Call) Client() link.Conn {
	return c.env.Client
}

// MessageID returns the request's message id.
func (c *Call) MessageID() uint32 {
	return wire.NewBuffer(c.env.Data).ID()
}

// Reply returns the outgoing buffer prepared with the request's
// protocol and action, cursor past the header. The id and length are
// stamped by Respond.
func (c *Call) Reply() *wire.Buffer {
	b := wire.NewBuffer(c.out)
	b.PrepareHeader(0, c.env.Data[8], c.env.Data[9])
	return b
}

// Respond sends out back to the caller, echoing the request id. When
// the sender has no client record the reply is addressed by the
// envelope's origin.
func (c *Call) Respond(out *wire.Buffer) error {
	return c.srv.Respond(c.env, out)
}

// invoke is the handler invocation path shared by both strategies:
// resolve (protocol, action) under the registry lock, report a miss to
// the sender as a control error event, otherwise run the handler with
// the cursor advanced past the header.
func (s *Server) invoke(env *link.Envelope, out []byte) {
	h, err := wire.DecodeHeader(env.Data[env.Index:])
	if err != nil {
		s.lg.Warn().Int("client", int(env.Client)).Msg("dispatch: truncated frame")
		return
	}

	handler := s.lookupAction(h.Protocol, h.Action)
	if handler == nil {
		s.lg.Warn().
			Uint8("protocol", h.Protocol).
			Uint8("action", h.Action).
			Msg("dispatch: no handler registered")
		s.metrics.dispatchMisses.Inc()
		s.sendControlError(env, h.ID, wire.ControlCodeNoHandler)
		return
	}

	in := wire.NewBuffer(env.Data)
	in.Index = env.Index + wire.HeaderSize
	handler(&Call{srv: s, env: env, out: out}, in)
}
