package mediator

import (
	"time"

	"github.com/coregx/relay/protocol"
	"github.com/coregx/relay/transport"
)

// pollInterval bounds how often the cooperative "partner exists?" /
// "partner connection CONNECTED?" waits re-check, per spec §5.
const pollInterval = 100 * time.Millisecond

// ackContent is the one-token ACK body of spec §4.7's latest-wins
// frame forwarder, carried on the controller-frame channel.
const ackContent = "Message received"

// waitForPartnerConnection cooperatively waits for the partner client to
// exist and for its same-named connection to reach Connected, per §4.7.
// It aborts with a *Disconnect as soon as conn leaves Connected, the
// server stops running, or the partner's same-named connection is Closed
// or in Error. While no partner (or no such connection) exists it keeps
// waiting.
func waitForPartnerConnection(s *Server, client *Client, conn *Connection) (*Client, *Connection, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if conn.Status() != Connected {
			return nil, nil, &Disconnect{Cause: ConnectionDisconnected}
		}
		if !s.Running() {
			return nil, nil, &Disconnect{Cause: ServerDisconnected}
		}

		partner, ok := client.Partner()
		if ok {
			if pconn, ok := partner.Connection(conn.Name); ok {
				switch pconn.Status() {
				case Connected:
					return partner, pconn, nil
				case Closed, Error:
					return nil, nil, &Disconnect{Cause: PartnerConnectionDisconnected}
				}
			}
		}

		<-ticker.C
	}
}

// orderedForwarderLoop implements §4.7's ordered buffered forwarder:
// reads messages from conn's own recv buffer (in FIFO order) and
// enqueues them onto the partner's same-named connection's send buffer.
// Used for keyboard-sender, mouse-sender, and settings (bidirectional:
// both peers run this loop on their own "settings" connection).
func orderedForwarderLoop(s *Server, client *Client, conn *Connection) {
	for conn.Status() == Connected {
		_, pconn, err := waitForPartnerConnection(s, client, conn)
		if err != nil {
			conn.SetStatus(Disconnecting)
			return
		}

		msg, ok, err := conn.Advanced.Recv(true)
		if err != nil || !ok {
			if _, isClosed := err.(*transport.ConnectionClosed); isClosed {
				conn.SetStatus(Disconnecting)
				return
			}
			continue
		}

		if err := pconn.Advanced.Send(msg, false); err != nil {
			// Partner vanished mid-send; its own loop will observe the
			// disconnect and this connection's next wait will too.
			continue
		}
		s.metrics.IncForwarded(conn.Type.String())
	}
}

// frameForwarderLoop implements §4.7's latest-wins frame forwarder: pop
// the current coalescing value, push it to the partner, and block for
// the partner's one-token ACK before popping the next. A newer value
// arriving while the previous is in flight silently supersedes it,
// because the sender's own recv buffer is itself a coalescing cell.
func frameForwarderLoop(s *Server, client *Client, conn *Connection) {
	for conn.Status() == Connected {
		_, pconn, err := waitForPartnerConnection(s, client, conn)
		if err != nil {
			conn.SetStatus(Disconnecting)
			return
		}

		msg, ok, err := conn.Advanced.Recv(true)
		if err != nil || !ok {
			if _, isClosed := err.(*transport.ConnectionClosed); isClosed {
				conn.SetStatus(Disconnecting)
				return
			}
			continue
		}

		if err := pconn.Advanced.Send(msg, false); err != nil {
			continue
		}

		if !waitForAck(s, conn, pconn) {
			return
		}
		s.metrics.IncForwarded(conn.Type.String())
	}
}

// waitForAck blocks until the partner's connection yields the one-token
// ACK. It re-checks conn's own status so a local disconnect during the
// wait doesn't hang the loop forever.
func waitForAck(s *Server, conn, pconn *Connection) bool {
	for conn.Status() == Connected {
		ack, ok, err := pconn.Advanced.Recv(false)
		if err != nil {
			conn.SetStatus(Disconnecting)
			return false
		}
		if ok {
			if ack.ContentString() != ackContent {
				conn.SetStatus(Error)
				return false
			}
			return true
		}
		time.Sleep(10 * time.Millisecond)
		if !s.Running() {
			conn.SetStatus(Disconnecting)
			return false
		}
	}
	return false
}

// passiveRoleLoop is run by the *-receiver side of each forwarding pair:
// all of its actual I/O is driven by the partner's forwarder loop
// calling methods on this connection's Advanced directly, so this loop
// only has to notice when the connection itself stops being usable
// (local disconnect, crash, or server shutdown) and transition status
// accordingly.
func passiveRoleLoop(s *Server, conn *Connection) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for conn.Status() == Connected {
		if !s.Running() {
			conn.SetStatus(Disconnecting)
			return
		}
		// Err() inspects the latched error on either side without
		// consuming a buffer a partner's forwarder loop (e.g. the
		// frame-forwarder's ACK wait) may be concurrently draining.
		if err := conn.Advanced.Err(); err != nil {
			conn.SetStatus(Disconnecting)
			return
		}
		<-ticker.C
	}
}

// ackMessage builds the one-token ACK a frame-receiver's client sends
// back once it has consumed a frame.
func ackMessage() (protocol.Message, error) {
	return protocol.NewMessage(protocol.ControllerFrame, []byte(ackContent))
}
