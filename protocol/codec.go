package protocol

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pierrec/lz4/v4"
)

// lengthFieldWidth is the fixed ASCII-decimal width of the LENGTH header,
// per spec §3's "fixed-width, zero-padded ASCII decimal of exactly 16
// bytes".
const lengthFieldWidth = 16

// typeFieldWidth is the fixed width of the TYPE header: a single ASCII
// digit.
const typeFieldWidth = 1

// Encode serialises msg into its wire representation: a 16-digit ASCII
// length, a 1-digit ASCII type, and an LZ4-frame-compressed body. Encoding
// is deterministic given msg, since the compressor is pure.
func Encode(msg Message) ([]byte, error) {
	var body bytes.Buffer
	w := lz4.NewWriter(&body)
	if _, err := w.Write(msg.content); err != nil {
		return nil, &ProtocolError{Reason: "lz4 compression failed", Cause: err}
	}
	if err := w.Close(); err != nil {
		return nil, &ProtocolError{Reason: "lz4 compression failed", Cause: err}
	}

	bodyBytes := body.Bytes()
	out := make([]byte, 0, lengthFieldWidth+typeFieldWidth+len(bodyBytes))
	out = append(out, []byte(fmt.Sprintf("%0*d", lengthFieldWidth, len(bodyBytes)))...)
	out = append(out, byte('0'+msg.kind))
	out = append(out, bodyBytes...)
	return out, nil
}

// Decode reads exactly one frame from r and returns the decoded Message.
//
// Three fixed-length reads are performed in sequence: LENGTH (16 bytes),
// TYPE (1 byte), BODY (LENGTH bytes). A read timeout (net.Error.Timeout())
// is returned unwrapped so callers can distinguish "retry me" from a
// genuine protocol failure, and a clean EOF before the first byte of a
// frame is returned as io.EOF; any other failure, including EOF arriving
// mid-frame, is wrapped as *ProtocolError.
func Decode(r io.Reader) (Message, error) {
	lengthBuf := make([]byte, lengthFieldWidth)
	if err := readFull(r, lengthBuf, false); err != nil {
		return Message{}, err
	}

	length, err := parseLength(lengthBuf)
	if err != nil {
		return Message{}, &ProtocolError{Reason: "malformed length field", Cause: err}
	}

	typeBuf := make([]byte, typeFieldWidth)
	if err := readFull(r, typeBuf, true); err != nil {
		return Message{}, err
	}
	kind := Type(typeBuf[0] - '0')
	if !kind.valid() {
		return Message{}, &ProtocolError{Reason: "unknown message type"}
	}

	body := make([]byte, length)
	if err := readFull(r, body, true); err != nil {
		return Message{}, err
	}

	var decompressed bytes.Buffer
	decompressed.Grow(length * 4)
	rd := lz4.NewReader(bytes.NewReader(body))
	if _, err := io.Copy(&decompressed, rd); err != nil {
		return Message{}, &ProtocolError{Reason: "lz4 decompression failed", Cause: err}
	}

	return NewMessage(kind, decompressed.Bytes())
}

// readFull reads exactly len(buf) bytes from r. Timeouts propagate
// unwrapped (callers retry them at the read layer, per §4.1); any other
// error, including EOF once part of the frame has already been read
// (n > 0, or midFrame for every field after LENGTH), is wrapped as a
// *ProtocolError.
func readFull(r io.Reader, buf []byte, midFrame bool) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return err
	}
	if err == io.EOF && n == 0 && !midFrame {
		// Clean EOF at a frame boundary is a connection close, not a
		// protocol violation; let the caller's transport layer turn
		// this into ConnectionClosed.
		return io.EOF
	}
	return &ProtocolError{Reason: "short read", Cause: fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, len(buf))}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func parseLength(buf []byte) (int, error) {
	n := 0
	for _, b := range buf {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("non-decimal byte %q in length field", b)
		}
		n = n*10 + int(b-'0')
	}
	if n > MaxContentSize*4 {
		return 0, fmt.Errorf("length %d exceeds practical frame bound", n)
	}
	return n, nil
}

// DecodeDeadline is a convenience wrapper that sets a read deadline on a
// net.Conn before decoding one frame, matching the "socket read timeout
// set to a small refresh interval" pattern of §4.3.
func DecodeDeadline(conn net.Conn, timeout time.Duration) (Message, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Message{}, err
		}
	}
	return Decode(conn)
}
