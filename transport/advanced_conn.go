// Package transport implements the "advanced connection" of spec §4.3:
// a byte stream wrapped with two independent halves, a sending side and
// a receiving side, each backed by its own buffer.Buffer and driven by a
// dedicated worker goroutine.
package transport

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/coregx/relay/buffer"
	"github.com/coregx/relay/protocol"
)

// RefreshInterval bounds how often each worker re-checks its run flag,
// per §4.3 ("the socket read timeout is set to a small refresh interval
// so that workers regularly re-check their run flag"). Exported so
// tests can shorten it; config.Config does not set it.
var RefreshInterval = 1500 * time.Millisecond

// side is the shared state for one direction (send or recv) of an
// AdvancedConnection.
type side struct {
	buf     *buffer.Buffer
	running atomic
	err     errBox
	done    chan struct{} // closed when the worker goroutine exits
	once    sync.Once
}

// AdvancedConnection wraps one net.Conn with an independently
// start/stop-able send side and receive side.
type AdvancedConnection struct {
	conn net.Conn

	send *side
	recv *side

	wg sync.WaitGroup
}

// New constructs an AdvancedConnection that has not yet been started.
func New() *AdvancedConnection {
	return &AdvancedConnection{
		send: &side{done: make(chan struct{})},
		recv: &side{done: make(chan struct{})},
	}
}

// Start attaches a connected stream and launches both workers in the
// given buffer modes.
func (a *AdvancedConnection) Start(conn net.Conn, inputMode, outputMode buffer.Mode, capacity int) {
	a.conn = conn
	a.send.buf = buffer.New(outputMode, capacity)
	a.recv.buf = buffer.New(inputMode, capacity)

	a.send.running.set(true)
	a.recv.running.set(true)

	a.wg.Add(2)
	go a.sendLoop()
	go a.recvLoop()
}

// sendLoop drains the send buffer and writes each message to the
// socket, re-checking the run flag every RefreshInterval when the
// buffer is empty.
func (a *AdvancedConnection) sendLoop() {
	defer a.wg.Done()
	defer close(a.send.done)

	for a.send.running.get() {
		msg, ok := a.send.buf.Pop(RefreshInterval)
		if !ok {
			continue
		}
		wire, err := protocol.Encode(msg)
		if err != nil {
			a.send.err.set(err)
			a.send.running.set(false)
			return
		}
		if err := writeFull(a.conn, wire); err != nil {
			a.send.err.set(err)
			a.send.running.set(false)
			return
		}
	}
}

// recvLoop reads frames off the socket and enqueues them onto the recv
// buffer, re-checking the run flag on every read-deadline timeout.
func (a *AdvancedConnection) recvLoop() {
	defer a.wg.Done()
	defer close(a.recv.done)

	for a.recv.running.get() {
		msg, err := protocol.DecodeDeadline(a.conn, RefreshInterval)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			a.recv.err.set(err)
			a.recv.running.set(false)
			return
		}
		// Buffered mode blocks here under backpressure; that is the
		// intended propagation path to the sender (§5 "Ordering
		// guarantees"). Coalescing mode never blocks.
		_ = a.recv.buf.Add(msg, 0)
	}
}

// Send enqueues msg on the send buffer. If blockUntilEmpty is true, Send
// waits until the buffer has drained (best-effort: it polls Empty, since
// the buffer has no native drain-wait primitive).
//
// Add is attempted in RefreshInterval-sized slices rather than one
// indefinite call, so a send-side buffer that is full because the
// sendLoop worker has already latched an error and stopped draining is
// noticed promptly instead of blocking forever.
func (a *AdvancedConnection) Send(msg protocol.Message, blockUntilEmpty bool) error {
	for {
		if err := a.send.err.get(); err != nil {
			return &ConnectionClosed{Side: "send", Cause: err}
		}
		if !a.send.running.get() {
			return &ConnectionClosed{Side: "send"}
		}
		err := a.send.buf.Add(msg, RefreshInterval)
		if err == nil {
			break
		}
		if err != buffer.ErrFull {
			return err
		}
		// timed out still full: loop around to re-check the latched error
	}
	if blockUntilEmpty {
		for !a.send.buf.Empty() {
			time.Sleep(time.Millisecond)
			if err := a.send.err.get(); err != nil {
				return &ConnectionClosed{Side: "send", Cause: err}
			}
		}
	}
	return nil
}

// Recv dequeues the next received message. If block is false and none is
// immediately available, it returns ok=false without waiting. If block is
// true, Recv waits in RefreshInterval-sized slices rather than
// indefinitely, so a latched recv error (the side's worker having exited)
// is noticed promptly instead of hanging forever waiting for an item
// that will never arrive.
func (a *AdvancedConnection) Recv(block bool) (msg protocol.Message, ok bool, err error) {
	for {
		if cause := a.recv.err.get(); cause != nil {
			return protocol.Message{}, false, &ConnectionClosed{Side: "recv", Cause: cause}
		}

		timeout := RefreshInterval
		if !block {
			timeout = time.Nanosecond
		}
		msg, ok = a.recv.buf.Pop(timeout)
		if ok {
			return msg, true, nil
		}
		// The worker having stopped (deliberate half-close, no error) is
		// only terminal once the buffer it left behind is drained; check
		// it here rather than before Pop so already-queued items are
		// still delivered.
		if !a.recv.running.get() {
			return protocol.Message{}, false, &ConnectionClosed{Side: "recv"}
		}
		if !block {
			if cause := a.recv.err.get(); cause != nil {
				return protocol.Message{}, false, &ConnectionClosed{Side: "recv", Cause: cause}
			}
			return protocol.Message{}, false, nil
		}
		// blocking: loop around, re-checking the latched error, until an
		// item arrives.
	}
}

// Err returns the first latched error on either side, without consuming
// anything from either buffer, so callers can detect a remote close or
// I/O failure while leaving application data for the real consumer to
// Recv/Send.
func (a *AdvancedConnection) Err() error {
	if err := a.send.err.get(); err != nil {
		return err
	}
	return a.recv.err.get()
}

// SwitchState changes both buffer modes; see buffer.Buffer.SwitchMode for
// the drop-on-mismatch semantics.
func (a *AdvancedConnection) SwitchState(inputMode, outputMode buffer.Mode, capacity int) {
	a.recv.buf.SwitchMode(inputMode, capacity)
	a.send.buf.SwitchMode(outputMode, capacity)
}

// CloseSendThread half-closes the sending side only, for strictly
// one-way roles (§4.5's *-receiver connections never send application
// data).
func (a *AdvancedConnection) CloseSendThread() {
	a.send.once.Do(func() {
		a.send.running.set(false)
		<-a.send.done
	})
}

// CloseRecvThread half-closes the receiving side only.
func (a *AdvancedConnection) CloseRecvThread() {
	a.recv.once.Do(func() {
		a.recv.running.set(false)
		<-a.recv.done
	})
}

// Shutdown stops both workers. If block is true it waits for both to
// exit before returning.
func (a *AdvancedConnection) Shutdown(block bool) {
	a.send.running.set(false)
	a.recv.running.set(false)
	if block {
		a.wg.Wait()
	}
}

// Close performs orderly teardown: stops both workers, waits for them to
// exit, and closes the underlying stream.
func (a *AdvancedConnection) Close() error {
	a.Shutdown(true)
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func writeFull(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
