// Package server implements the dispatch core: the reactor loop, the
// per-connection receive paths over both transport modes, the protocol
// and client tables, selective broadcast, and the single- and
// multi-threaded dispatch strategies.
//
// Ownership boundary:
// - reactor loop and event demultiplexing by handle
// - protocol/action registry and client table (one mutex)
// - envelope provisioning (static buffers or arena slots)
// - the built-in control protocol (subscribe/unsubscribe/error)
package server
