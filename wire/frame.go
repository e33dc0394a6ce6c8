package wire

import (
	"encoding/binary"
)

const (
	// HeaderSize is the fixed wire header length in bytes.
	HeaderSize = 12
	// DescSize is the length of one parameter descriptor in bytes.
	DescSize = 12
)

// Parameter descriptor tags.
const (
	ParamScalar uint8 = 0
	ParamBuffer uint8 = 1
	ParamShm    uint8 = 2
)

// Header is the fixed frame header. All integers are little-endian on
// the wire.
type Header struct {
	ID       uint32
	Length   uint32
	Protocol uint8
	Action   uint8
	ParamIn  uint8
	ParamOut uint8
}

// Param is one parameter slot. Scalars carry their value inline; buffer
// params carry a byte slice that is packed after the descriptor table.
type Param struct {
	Tag    uint8
	Value  uint32 // scalar value, or payload offset within the frame once encoded
	Length uint32 // buffer length in bytes; zero for scalars
	Data   []byte // buffer payload on the in-memory side
}

// Frame is one complete message: header, descriptor table and packed
// buffer payloads.
type Frame struct {
	Header Header
	Params []Param
}

// EncodeHeader writes h into the first HeaderSize bytes of dst.
func EncodeHeader(dst []byte, h Header) error {
	if len(dst) < HeaderSize {
		return ErrBufferOverrun
	}
	binary.LittleEndian.PutUint32(dst[0:4], h.ID)
	binary.LittleEndian.PutUint32(dst[4:8], h.Length)
	dst[8] = h.Protocol
	dst[9] = h.Action
	dst[10] = h.ParamIn
	dst[11] = h.ParamOut
	return nil
}

// DecodeHeader parses the fixed header from src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrShortFrame
	}
	return Header{
		ID:       binary.LittleEndian.Uint32(src[0:4]),
		Length:   binary.LittleEndian.Uint32(src[4:8]),
		Protocol: src[8],
		Action:   src[9],
		ParamIn:  src[10],
		ParamOut: src[11],
	}, nil
}

// ValidateLength checks the declared frame length against the header
// minimum and the configured max message size.
func ValidateLength(h Header, maxMessageSize uint32) error {
	if h.Length < HeaderSize {
		return ErrShortFrame
	}
	if h.Length > maxMessageSize {
		return ErrTooLarge
	}
	return nil
}

// EncodedSize returns the full frame length f would occupy on the wire.
func (f *Frame) EncodedSize() uint32 {
	size := uint32(HeaderSize) + uint32(len(f.Params))*DescSize
	for i := range f.Params {
		if f.Params[i].Tag == ParamBuffer {
			size += uint32(len(f.Params[i].Data))
		}
	}
	return size
}

// Encode assembles the frame into dst and returns the encoded length.
// The header Length, ParamIn and buffer offsets are filled in here.
// Frames carrying shared-memory params are rejected before any byte is
// written.
func (f *Frame) Encode(dst []byte) (uint32, error) {
	for i := range f.Params {
		if f.Params[i].Tag == ParamShm {
			return 0, ErrShmUnsupported
		}
	}

	total := f.EncodedSize()
	if uint32(len(dst)) < total {
		return 0, ErrBufferOverrun
	}

	f.Header.Length = total
	f.Header.ParamIn = uint8(len(f.Params))
	if err := EncodeHeader(dst, f.Header); err != nil {
		return 0, err
	}

	descOff := uint32(HeaderSize)
	payloadOff := uint32(HeaderSize) + uint32(len(f.Params))*DescSize
	for i := range f.Params {
		p := &f.Params[i]
		dst[descOff] = p.Tag
		dst[descOff+1] = 0
		dst[descOff+2] = 0
		dst[descOff+3] = 0
		switch p.Tag {
		case ParamScalar:
			binary.LittleEndian.PutUint32(dst[descOff+4:descOff+8], 0)
			binary.LittleEndian.PutUint32(dst[descOff+8:descOff+12], p.Value)
		case ParamBuffer:
			p.Length = uint32(len(p.Data))
			p.Value = payloadOff
			binary.LittleEndian.PutUint32(dst[descOff+4:descOff+8], p.Length)
			binary.LittleEndian.PutUint32(dst[descOff+8:descOff+12], p.Value)
			copy(dst[payloadOff:payloadOff+p.Length], p.Data)
			payloadOff += p.Length
		default:
			return 0, ErrBadDescriptor
		}
		descOff += DescSize
	}
	return total, nil
}

// EncodeTable assembles only the header and descriptor table into dst,
// filling in Length, ParamIn and buffer offsets as Encode would. The
// buffer payloads themselves are left to the caller's gathered write.
// Returns the table length (header plus descriptors).
func (f *Frame) EncodeTable(dst []byte) (uint32, error) {
	for i := range f.Params {
		if f.Params[i].Tag == ParamShm {
			return 0, ErrShmUnsupported
		}
	}

	tableLen := uint32(HeaderSize) + uint32(len(f.Params))*DescSize
	if uint32(len(dst)) < tableLen {
		return 0, ErrBufferOverrun
	}

	f.Header.Length = f.EncodedSize()
	f.Header.ParamIn = uint8(len(f.Params))
	if err := EncodeHeader(dst, f.Header); err != nil {
		return 0, err
	}

	descOff := uint32(HeaderSize)
	payloadOff := tableLen
	for i := range f.Params {
		p := &f.Params[i]
		dst[descOff] = p.Tag
		dst[descOff+1] = 0
		dst[descOff+2] = 0
		dst[descOff+3] = 0
		switch p.Tag {
		case ParamScalar:
			binary.LittleEndian.PutUint32(dst[descOff+4:descOff+8], 0)
			binary.LittleEndian.PutUint32(dst[descOff+8:descOff+12], p.Value)
		case ParamBuffer:
			p.Length = uint32(len(p.Data))
			p.Value = payloadOff
			binary.LittleEndian.PutUint32(dst[descOff+4:descOff+8], p.Length)
			binary.LittleEndian.PutUint32(dst[descOff+8:descOff+12], p.Value)
			payloadOff += p.Length
		default:
			return 0, ErrBadDescriptor
		}
		descOff += DescSize
	}
	return tableLen, nil
}

// DecodeFrame parses a full frame from src. Buffer params alias into
// src rather than copying; the frame is only valid while src is.
func DecodeFrame(src []byte) (Frame, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return Frame{}, err
	}
	if uint32(len(src)) < h.Length {
		return Frame{}, ErrShortFrame
	}

	nparams := int(h.ParamIn) + int(h.ParamOut)
	if h.Length < uint32(HeaderSize+nparams*DescSize) {
		return Frame{}, ErrBadDescriptor
	}

	f := Frame{Header: h}
	if nparams == 0 {
		return f, nil
	}

	f.Params = make([]Param, nparams)
	descOff := uint32(HeaderSize)
	for i := 0; i < nparams; i++ {
		tag := src[descOff]
		length := binary.LittleEndian.Uint32(src[descOff+4 : descOff+8])
		value := binary.LittleEndian.Uint32(src[descOff+8 : descOff+12])
		switch tag {
		case ParamScalar:
			f.Params[i] = Param{Tag: ParamScalar, Value: value}
		case ParamBuffer:
			if value < uint32(HeaderSize) || value+length > h.Length {
				return Frame{}, ErrBadDescriptor
			}
			f.Params[i] = Param{Tag: ParamBuffer, Value: value, Length: length, Data: src[value : value+length]}
		case ParamShm:
			return Frame{}, ErrShmUnsupported
		default:
			return Frame{}, ErrBadDescriptor
		}
		descOff += DescSize
	}
	return f, nil
}
