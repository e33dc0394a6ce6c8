package server

import "errors"

var (
	ErrAlreadyInitialized = errors.New("server: already initialized")
	ErrAlreadyRunning     = errors.New("server: already running")
	ErrInvalidConfig      = errors.New("server: invalid configuration")
	ErrNotSupported       = errors.New("server: link provides no usable transport")
	ErrNoMemory           = errors.New("server: out of envelope slots")
	ErrNoClient           = errors.New("server: no such client")
)
