// Package protocol implements the mediator's wire format: a framed,
// typed, LZ4-compressed message transport.
//
// Wire layout of one frame:
//
//	LENGTH  16 ASCII decimal digits, zero-padded, byte count of BODY
//	TYPE    1 ASCII digit, one of the Type constants
//	BODY    LENGTH bytes, an LZ4-frame-compressed blob of the message content
//
// The decoder always reads exactly LENGTH+17 bytes per message.
package protocol

import "errors"

// Type is the closed set of message kinds carried over the wire.
type Type byte

const (
	// ServerInteraction carries admission dialogue, connector commands,
	// and main-channel RPCs.
	ServerInteraction Type = iota
	// ControllerFrame carries input events and ACKs flowing from the
	// controller to the controlled peer (and the ACK flowing back).
	ControllerFrame
	// ControlledFrame carries captured screen frames flowing from the
	// controlled peer to the controller.
	ControlledFrame
)

// String implements fmt.Stringer for log fields.
func (t Type) String() string {
	switch t {
	case ServerInteraction:
		return "server-interaction"
	case ControllerFrame:
		return "controller-frame"
	case ControlledFrame:
		return "controlled-frame"
	default:
		return "unknown"
	}
}

// valid reports whether t is one of the closed set of wire types.
func (t Type) valid() bool {
	switch t {
	case ServerInteraction, ControllerFrame, ControlledFrame:
		return true
	default:
		return false
	}
}

// MaxContentSize bounds a single message's decompressed content, per §3:
// "up to 10^16 bytes (in practice <= a few MiB)". We enforce the practical
// bound; the 10^16 figure only constrains the wire length field's width.
const MaxContentSize = 16 * 1024 * 1024

// Message is the tuple (type, content) defined in spec §3. Construction
// validates type and size so that every live Message is well-formed.
type Message struct {
	kind    Type
	content []byte
}

// NewMessage validates kind and content and returns a Message, or a
// *ProtocolError if kind is not one of the closed set or content exceeds
// MaxContentSize.
func NewMessage(kind Type, content []byte) (Message, error) {
	if !kind.valid() {
		return Message{}, &ProtocolError{Reason: "unknown message type"}
	}
	if len(content) > MaxContentSize {
		return Message{}, &ProtocolError{Reason: "content exceeds maximum size"}
	}
	return Message{kind: kind, content: content}, nil
}

// Type returns the message's type.
func (m Message) Type() Type { return m.kind }

// Content returns the message's opaque content bytes.
func (m Message) Content() []byte { return m.content }

// ContentString is a convenience accessor for the many protocol strings
// (admission dialogue, connector commands, RPCs) carried as UTF-8 text.
func (m Message) ContentString() string { return string(m.content) }

// ErrShortRead is returned by the low-level fixed-width readers when the
// stream yields EOF before the expected number of bytes arrives.
var ErrShortRead = errors.New("protocol: short read")
