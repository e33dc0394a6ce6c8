package wire

import (
	"encoding/binary"
)

// Buffer is a cursor over one frame's bytes. Handlers read arguments
// from a received frame and serialize replies into an outgoing one
// through the same type. The backing slice is fixed; writes past its
// end latch ErrBufferOverrun instead of growing.
type Buffer struct {
	Data  []byte
	Index int

	err error
}

// NewBuffer wraps data with the cursor at zero.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{Data: data}
}

// Reset rewinds the cursor and clears any latched error.
func (b *Buffer) Reset() {
	b.Index = 0
	b.err = nil
}

// Err reports the first overrun/underrun hit by a serializer call.
func (b *Buffer) Err() error {
	return b.err
}

// PrepareHeader stamps a fresh frame header and positions the cursor
// at the start of the argument payload. Length is stamped at send time.
func (b *Buffer) PrepareHeader(id uint32, protocol, action uint8) error {
	if len(b.Data) < HeaderSize {
		return ErrBufferOverrun
	}
	b.Reset()
	if err := EncodeHeader(b.Data, Header{ID: id, Protocol: protocol, Action: action}); err != nil {
		return err
	}
	b.Index = HeaderSize
	return nil
}

// SetID overwrites the message id field of the encoded header.
func (b *Buffer) SetID(id uint32) {
	if len(b.Data) >= 4 {
		binary.LittleEndian.PutUint32(b.Data[0:4], id)
	}
}

// SetLength overwrites the total-length field of the encoded header.
func (b *Buffer) SetLength(length uint32) {
	if len(b.Data) >= 8 {
		binary.LittleEndian.PutUint32(b.Data[4:8], length)
	}
}

// ID reads the message id field of the encoded header.
func (b *Buffer) ID() uint32 {
	if len(b.Data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b.Data[0:4])
}

func (b *Buffer) ensureWrite(n int) bool {
	if b.err != nil {
		return false
	}
	if b.Index+n > len(b.Data) {
		b.err = ErrBufferOverrun
		return false
	}
	return true
}

func (b *Buffer) ensureRead(n int) bool {
	if b.err != nil {
		return false
	}
	if b.Index+n > len(b.Data) {
		b.err = ErrBufferUnderrun
		return false
	}
	return true
}

func (b *Buffer) WriteU8(v uint8) {
	if !b.ensureWrite(1) {
		return
	}
	b.Data[b.Index] = v
	b.Index++
}

func (b *Buffer) WriteU16(v uint16) {
	if !b.ensureWrite(2) {
		return
	}
	binary.LittleEndian.PutUint16(b.Data[b.Index:], v)
	b.Index += 2
}

func (b *Buffer) WriteU32(v uint32) {
	if !b.ensureWrite(4) {
		return
	}
	binary.LittleEndian.PutUint32(b.Data[b.Index:], v)
	b.Index += 4
}

func (b *Buffer) WriteU64(v uint64) {
	if !b.ensureWrite(8) {
		return
	}
	binary.LittleEndian.PutUint64(b.Data[b.Index:], v)
	b.Index += 8
}

// WriteBytes serializes a length-prefixed byte block.
func (b *Buffer) WriteBytes(v []byte) {
	if !b.ensureWrite(4 + len(v)) {
		return
	}
	binary.LittleEndian.PutUint32(b.Data[b.Index:], uint32(len(v)))
	b.Index += 4
	copy(b.Data[b.Index:], v)
	b.Index += len(v)
}

// WriteString serializes a length-prefixed string.
func (b *Buffer) WriteString(v string) {
	if !b.ensureWrite(4 + len(v)) {
		return
	}
	binary.LittleEndian.PutUint32(b.Data[b.Index:], uint32(len(v)))
	b.Index += 4
	copy(b.Data[b.Index:], v)
	b.Index += len(v)
}

func (b *Buffer) ReadU8() uint8 {
	if !b.ensureRead(1) {
		return 0
	}
	v := b.Data[b.Index]
	b.Index++
	return v
}

func (b *Buffer) ReadU16() uint16 {
	if !b.ensureRead(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(b.Data[b.Index:])
	b.Index += 2
	return v
}

func (b *Buffer) ReadU32() uint32 {
	if !b.ensureRead(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(b.Data[b.Index:])
	b.Index += 4
	return v
}

func (b *Buffer) ReadU64() uint64 {
	if !b.ensureRead(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(b.Data[b.Index:])
	b.Index += 8
	return v
}

// ReadBytes reads a length-prefixed byte block. The result aliases the
// buffer's backing storage.
func (b *Buffer) ReadBytes() []byte {
	if !b.ensureRead(4) {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(b.Data[b.Index:]))
	b.Index += 4
	if !b.ensureRead(n) {
		return nil
	}
	v := b.Data[b.Index : b.Index+n]
	b.Index += n
	return v
}

// ReadString reads a length-prefixed string.
func (b *Buffer) ReadString() string {
	return string(b.ReadBytes())
}
