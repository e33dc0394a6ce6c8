package server

import (
	"github.com/danmuck/wirelink/link"
	"github.com/danmuck/wirelink/wire"
)

// client is one entry of the client table: the connection handle, the
// subscription bitmap gating broadcast delivery, and the link-private
// transport state. Entries are keyed uniquely by handle; the bitmap is
// mutated only under the server mutex.
type client struct {
	handle link.Conn
	peer   link.Peer
	subs   [32]byte // 256 bits indexed by protocol id
}

func (c *client) subscribe(id uint8) {
	if id == wire.SubscribeAll {
		for i := range c.subs {
			c.subs[i] = 0xFF
		}
		return
	}
	c.subs[id/8] |= 1 << (id % 8)
}

func (c *client) unsubscribe(id uint8) {
	if id == wire.SubscribeAll {
		for i := range c.subs {
			c.subs[i] = 0
		}
		return
	}
	c.subs[id/8] &^= 1 << (id % 8)
}

func (c *client) subscribed(id uint8) bool {
	return c.subs[id/8]&(1<<(id%8)) != 0
}
