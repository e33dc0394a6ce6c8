// Package link owns the transport contract between the server core and
// a concrete connection-oriented link.
//
// Ownership boundary:
// - connection handles and send/recv flags
// - the received-message envelope and its linear release discipline
// - the Server capability interface implemented by link/socket
package link
