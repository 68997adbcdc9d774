package mediator

import (
	"encoding/hex"
	"strings"

	"github.com/coregx/relay/protocol"
)

// connectorLoop implements spec §4.7's connector loop: round-robin
// between inbound wire commands from the actual client and queued
// commands from sibling/partner workers, parsing each as "<verb>:<arg>".
func connectorLoop(s *Server, client *Client, conn *Connection) {
	queue := conn.CommandQueue()

	for conn.Status() == Connected {
		if !s.Running() {
			conn.SetStatus(Disconnecting)
			break
		}

		msg, ok, err := conn.Advanced.Recv(false)
		if err != nil {
			conn.SetStatus(Error)
			break
		}
		if ok {
			s.handleConnectorCommand(client, conn, msg.ContentString())
			continue
		}

		if msg, ok := queue.Pop(pollInterval); ok {
			s.handleConnectorCommand(client, conn, msg.ContentString())
		}
	}

	if conn.Status() == Error {
		s.crashCloseClient(client)
	}
}

// handleConnectorCommand parses and dispatches one "<verb>:<argument>"
// command (spec §4.7, §6).
func (s *Server) handleConnectorCommand(client *Client, conn *Connection, raw string) {
	verb, arg, _ := strings.Cut(raw, ":")

	switch verb {
	case "generate-token":
		s.handleGenerateToken(client, conn, arg)
	case "close":
		s.closeNamedConnection(client, arg)
	case "disconnect":
		go s.closeClientGraceful(client)
	case "finished":
		// Only ever sent server -> client in this implementation (the
		// external client program echoes it back as an ack-of-ack);
		// nothing further to do on receipt.
	default:
		_ = replyError(conn, ErrUnknownCommand)
	}
}

// handleGenerateToken implements §4.6 step 1-2: mint a token for
// (username, name) and reply "ok\n<token>" or "error\n<reason>".
func (s *Server) handleGenerateToken(client *Client, conn *Connection, name string) {
	token, err := s.tokens.Mint(client.User.Username, name)
	if err != nil {
		_ = replyError(conn, err)
		return
	}
	s.metrics.IncTokensMinted()
	s.emit(Event{Kind: "token-minted", User: client.User.Username, Conn: name})

	// Hex-encoded: the token's raw bytes can contain '\n', which would
	// corrupt the newline-delimited info body a sibling presents it in
	// (admitToken's strings.Split in admission.go).
	body := []byte("ok\n" + hex.EncodeToString(token))
	msg, err := protocol.NewMessage(protocol.ServerInteraction, body)
	if err != nil {
		return
	}
	_ = conn.Advanced.Send(msg, false)
}

func replyError(conn *Connection, cause error) error {
	msg, err := protocol.NewMessage(protocol.ServerInteraction, []byte("error\n"+cause.Error()))
	if err != nil {
		return err
	}
	return conn.Advanced.Send(msg, false)
}

// sendFinished writes the "finished" reply (spec §4.8 step 3) to a
// client's own connector.
func sendFinished(connector *Connection) error {
	msg, err := protocol.NewMessage(protocol.ServerInteraction, []byte("finished"))
	if err != nil {
		return err
	}
	return connector.Advanced.Send(msg, false)
}

// enqueueCommand places a "<verb>:<arg>" style command onto a
// connector's command queue, for cross-worker / cross-client requests
// that must reach the connector without any caller holding a lock
// (spec §9).
func enqueueCommand(connector *Connection, command string) {
	msg, err := protocol.NewMessage(protocol.ServerInteraction, []byte(command))
	if err != nil {
		return
	}
	_ = connector.CommandQueue().Add(msg, 0)
}
