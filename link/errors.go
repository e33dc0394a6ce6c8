package link

import "errors"

var (
	ErrUnsupported = errors.New("link: transport kind not supported")
	ErrNoData      = errors.New("link: no message pending")
	ErrBrokenPipe  = errors.New("link: short read or write, broken frame")
	ErrClosed      = errors.New("link: link destroyed")
)
