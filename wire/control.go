package wire

// Control protocol identifiers. Protocol id 0 is reserved and always
// registered by the server.
const (
	ControlProtocol uint8 = 0

	ControlSubscribe   uint8 = 0
	ControlUnsubscribe uint8 = 1
	ControlError       uint8 = 2

	// SubscribeAll is the sentinel protocol id meaning "all protocols"
	// for both subscribe and unsubscribe.
	SubscribeAll uint8 = 0xFF
)

// Control error codes carried by ControlError events.
const (
	ControlCodeNoHandler uint32 = 1
	ControlCodeTooLarge  uint32 = 2
)

// ControlErrorEvent is the decoded payload of a ControlError event:
// the id of the offending request and the failure code.
type ControlErrorEvent struct {
	MessageID uint32
	Code      uint32
}

// EncodeControlError builds a complete control error event frame into
// dst. Error events are server-originated and carry id 0 themselves;
// the failed request's id rides in the payload.
func EncodeControlError(dst []byte, messageID, code uint32) (uint32, error) {
	b := NewBuffer(dst)
	if err := b.PrepareHeader(0, ControlProtocol, ControlError); err != nil {
		return 0, err
	}
	b.WriteU32(messageID)
	b.WriteU32(code)
	if err := b.Err(); err != nil {
		return 0, err
	}
	b.SetLength(uint32(b.Index))
	return uint32(b.Index), nil
}

// DecodeControlError parses a ControlError event payload from a cursor
// positioned past the frame header.
func DecodeControlError(b *Buffer) (ControlErrorEvent, error) {
	ev := ControlErrorEvent{
		MessageID: b.ReadU32(),
		Code:      b.ReadU32(),
	}
	if err := b.Err(); err != nil {
		return ControlErrorEvent{}, err
	}
	return ev, nil
}
