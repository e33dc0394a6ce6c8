// Package socket implements the link contract over local UNIX-domain
// sockets: a stream listener with one connection per client, and a
// shared datagram socket whose peers are keyed by sender address.
package socket
