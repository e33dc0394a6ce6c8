package wire

import "errors"

var (
	ErrShortFrame     = errors.New("wire: frame shorter than header")
	ErrTooLarge       = errors.New("wire: frame exceeds max message size")
	ErrShmUnsupported = errors.New("wire: shared-memory parameters unsupported")
	ErrBadDescriptor  = errors.New("wire: malformed parameter descriptor")
	ErrBufferOverrun  = errors.New("wire: write past end of buffer")
	ErrBufferUnderrun = errors.New("wire: read past end of buffer")
)
