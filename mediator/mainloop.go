package mediator

import (
	"strings"

	"github.com/coregx/relay/protocol"
)

// mainLoop implements spec §4.7's main loop: a small RPC set served on
// the connection's own socket.
func mainLoop(s *Server, client *Client, conn *Connection) {
	for conn.Status() == Connected {
		if !s.Running() {
			conn.SetStatus(Disconnecting)
			return
		}

		// Recv(true) blocks in RefreshInterval-sized slices rather than
		// spinning: Running()/conn.Status() are re-checked every time it
		// times out with nothing pending.
		msg, ok, err := conn.Advanced.Recv(true)
		if err != nil {
			conn.SetStatus(Error)
			return
		}
		if !ok {
			continue
		}

		s.handleMainRPC(client, conn, msg.ContentString())
	}
}

func (s *Server) handleMainRPC(client *Client, conn *Connection, raw string) {
	switch {
	case raw == "get all usernames":
		s.replyUsernameList(conn, s.creds.AllUsernames())

	case raw == "get all connected usernames":
		s.replyUsernameList(conn, s.ClientUsernames())

	case strings.HasPrefix(raw, "set partner\n"):
		username := strings.TrimPrefix(raw, "set partner\n")
		s.handleSetPartner(client, conn, username)

	default:
		_ = replyMain(conn, "error\nunknown command")
	}
}

// handleSetPartner implements §4.7's "set partner" RPC. Open Question
// (a) is resolved in SPEC_FULL.md: this never auto-closes existing
// forwarding connections; it simply refuses when any are attached.
func (s *Server) handleSetPartner(client *Client, conn *Connection, username string) {
	if client.HasForwardingConnections() {
		_ = replyMain(conn, "error\n"+ErrPartnerChangeBlocked.Error())
		return
	}
	if _, ok := s.Client(username); !ok {
		_ = replyMain(conn, "error\n"+ErrPartnerNotFound.Error())
		return
	}
	client.SetPartner(username)
	_ = replyMain(conn, "set partner")
}

func (s *Server) replyUsernameList(conn *Connection, names []string) {
	_ = replyMain(conn, strings.Join(names, ","))
}

func replyMain(conn *Connection, body string) error {
	msg, err := protocol.NewMessage(protocol.ServerInteraction, []byte(body))
	if err != nil {
		return err
	}
	return conn.Advanced.Send(msg, false)
}
