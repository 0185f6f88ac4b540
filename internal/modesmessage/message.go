// Package modesmessage holds the Mode-S/Beast message catalogue: the
// message-type classifier and expected payload length table that the
// frame parser consults while deframing, plus the decoded message record
// itself.
package modesmessage

import "fmt"

// Type identifies the shape of a deframed message.
type Type int

const (
	Invalid Type = iota
	ModeAC
	ModeSShort
	ModeSLong
	Status
)

func (t Type) String() string {
	switch t {
	case ModeAC:
		return "MODE_AC"
	case ModeSShort:
		return "MODE_S_SHORT"
	case ModeSLong:
		return "MODE_S_LONG"
	case Status:
		return "STATUS"
	default:
		return "INVALID"
	}
}

// FromByte classifies a Beast/Radarcape message-type byte. It returns
// Invalid for any byte that is not one of the four known types.
func FromByte(b byte) Type {
	switch b {
	case 0x31:
		return ModeAC
	case 0x32:
		return ModeSShort
	case 0x33:
		return ModeSLong
	case 0x34:
		return Status
	default:
		return Invalid
	}
}

// Size returns the number of unescaped data bytes that follow the type
// byte for a message of the given type: 6 bytes timestamp + 1 byte signal
// level + payload. It does not include the 0x1A framing byte or the type
// byte itself.
func Size(t Type) int {
	switch t {
	case ModeAC:
		return 6 + 1 + 2
	case ModeSShort:
		return 6 + 1 + 7
	case ModeSLong:
		return 6 + 1 + 14
	case Status:
		return 6 + 1 + 14
	default:
		return 0
	}
}

// PayloadSize is message_size(type) as referenced by spec.md: the payload
// length alone, excluding the 6-byte timestamp and 1-byte signal metadata.
func PayloadSize(t Type) int {
	size := Size(t)
	if size == 0 {
		return 0
	}
	return size - 7
}

// TimestampKind distinguishes how a message's timestamp should be
// interpreted, driven by whether the receiver is delivering GPS-derived
// timestamps (Radarcape in GPS mode) or raw 12 MHz counter ticks.
type TimestampKind int

const (
	TwelveMHz TimestampKind = iota
	GPS
)

func (k TimestampKind) String() string {
	if k == GPS {
		return "GPS"
	}
	return "12MHz"
}

// Record is a fully decoded message ready for delivery to a downstream
// consumer.
type Record struct {
	Type          Type
	TimestampKind TimestampKind
	Timestamp     uint64 // 48-bit value, MSB-first on the wire
	Signal        uint8
	Payload       []byte
}

func (r Record) String() string {
	return fmt.Sprintf("%s ts=%d(%s) signal=%d payload=% X", r.Type, r.Timestamp, r.TimestampKind, r.Signal, r.Payload)
}
