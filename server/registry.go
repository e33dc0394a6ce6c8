package server

import (
	"github.com/danmuck/wirelink/wire"
)

// Handler processes one dispatched message. The cursor is positioned
// past the frame header. In multi-threaded mode handlers for the same
// connection may run concurrently; handler authors must not assume
// per-client serialization.
type Handler func(call *Call, in *wire.Buffer)

// Protocol groups the handlers of one protocol id.
type Protocol struct {
	ID      uint8
	Actions map[uint8]Handler
}

// NewProtocol builds a protocol record from an action table.
func NewProtocol(id uint8, actions map[uint8]Handler) *Protocol {
	return &Protocol{ID: id, Actions: actions}
}

// RegisterProtocol adds or replaces a protocol in the registry.
// Protocol id 0 is reserved for the built-in control protocol.
func (s *Server) RegisterProtocol(p *Protocol) error {
	if p == nil {
		return ErrInvalidConfig
	}
	if p.ID == wire.ControlProtocol {
		return ErrInvalidConfig
	}
	s.mu.Lock()
	s.protocols[p.ID] = p
	s.mu.Unlock()
	return nil
}

// UnregisterProtocol removes a protocol. The control protocol cannot be
// removed.
func (s *Server) UnregisterProtocol(id uint8) {
	if id == wire.ControlProtocol {
		return
	}
	s.mu.Lock()
	delete(s.protocols, id)
	s.mu.Unlock()
}

// lookupAction resolves (protocol, action) under the registry lock.
func (s *Server) lookupAction(protocol, action uint8) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.protocols[protocol]
	if !ok {
		return nil
	}
	return p.Actions[action]
}
