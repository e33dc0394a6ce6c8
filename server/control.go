package server

import (
	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/wire"
)

// registerControlProtocol installs the reserved protocol id 0. It is
// always present and cannot be replaced or removed.
func (s *Server) registerControlProtocol() {
	s.mu.Lock()
	s.protocols[wire.ControlProtocol] = &Protocol{
		ID: wire.ControlProtocol,
		Actions: map[uint8]Handler{
			wire.ControlSubscribe:   s.controlSubscribe,
			wire.ControlUnsubscribe: s.controlUnsubscribe,
		},
	}
	s.mu.Unlock()
}

// controlSubscribe sets the sender's subscription bit. A datagram peer
// seen here for the first time gets a synthesized client record, which
// also fires OnConnect.
func (s *Server) controlSubscribe(call *Call, in *wire.Buffer) {
	protocol := in.ReadU8()
	if in.Err() != nil {
		s.lg.Warn().Int("client", int(call.Client())).Msg("control: malformed subscribe")
		return
	}

	created := false
	s.mu.Lock()
	c, ok := s.clients[call.Client()]
	if !ok {
		p, err := s.lk.CreateClient(call.env)
		if err != nil {
			s.mu.Unlock()
			s.lg.Error().Err(err).Msg("control: create client failed")
			return
		}
		c = &client{handle: call.Client(), peer: p}
		s.clients[c.handle] = c
		created = true
	}
	c.subscribe(protocol)
	s.mu.Unlock()

	if created {
		s.metrics.clientsConnected.Inc()
		if s.onConnect != nil {
			s.onConnect(c.handle)
		}
	}
}

// controlUnsubscribe clears the sender's subscription bit. The all
// sentinel destroys the client entirely.
func (s *Server) controlUnsubscribe(call *Call, in *wire.Buffer) {
	protocol := in.ReadU8()
	if in.Err() != nil {
		s.lg.Warn().Int("client", int(call.Client())).Msg("control: malformed unsubscribe")
		return
	}

	s.mu.Lock()
	c, ok := s.clients[call.Client()]
	if ok {
		c.unsubscribe(protocol)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if protocol == wire.SubscribeAll {
		s.destroyClient(call.Client())
	}
}

// sendControlError reports a dispatch failure back to the sender as a
// control error event carrying the failed request's id.
func (s *Server) sendControlError(env *link.Envelope, messageID, code uint32) {
	var storage [wire.HeaderSize + 8]byte
	n, err := wire.EncodeControlError(storage[:], messageID, code)
	if err != nil {
		return
	}
	out := wire.NewBuffer(storage[:n])
	out.Index = int(n)

	s.mu.Lock()
	c, ok := s.clients[env.Client]
	s.mu.Unlock()

	if ok {
		if err := s.lk.SendClient(c.peer, out, link.Block); err != nil {
			s.lg.Debug().Err(err).Int("client", int(env.Client)).Msg("control: error event send failed")
		}
		return
	}
	if err := s.lk.Respond(env, out); err != nil {
		s.lg.Debug().Err(err).Int("client", int(env.Client)).Msg("control: error event respond failed")
	}
}
