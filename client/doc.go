// Package client implements the client side of the socket link:
// connect, framed send with pre-send size checks, two-phase stream
// receive, synchronous calls matched by message id, and the
// subscribe/unsubscribe control handshake.
package client
