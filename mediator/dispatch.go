package mediator

import (
	"net"

	"github.com/coregx/relay/buffer"
)

// bufferModes resolves the (recv-mode, send-mode) pair an
// AdvancedConnection is started with for a given role, per spec §4.5.
func (s *Server) bufferModes(role Role) (recv, send buffer.Mode, capacity int) {
	switch role {
	case RoleFrameSender, RoleFrameReceiver:
		return buffer.Coalescing, buffer.Coalescing, 0
	default:
		return buffer.Buffered, buffer.Buffered, s.cfg.bufferCapacity(role)
	}
}

// handleConnection is the dedicated worker the accept loop spawns per
// socket (spec §2): it drives admission, attaches the resulting
// connection to the right client, and runs the matching role loop.
func (s *Server) handleConnection(netConn net.Conn) {
	result, err := s.performAdmission(netConn)
	if err != nil {
		s.log.Debug().Err(err).Msg("mediator: admission failed")
		_ = netConn.Close()
		return
	}

	client := result.client
	cmdQueueCap := 0
	if result.role == RoleConnector {
		cmdQueueCap = s.cfg.CommandQueueCapacity
	}

	conn := NewConnection(result.name, result.role, cmdQueueCap)
	conn.SetStatus(Connecting)

	recvMode, sendMode, capacity := s.bufferModes(result.role)
	conn.Advanced.Start(netConn, recvMode, sendMode, capacity)

	switch result.role {
	case RoleFrameSender, RoleMouseSender, RoleKeyboardSender:
		conn.Advanced.CloseSendThread()
	case RoleMouseReceiver, RoleKeyboardReceiver:
		conn.Advanced.CloseRecvThread()
	}

	conn.SetStatus(Connected)

	if result.role == RoleConnector {
		// result.client was freshly constructed by admitLoginOrSignup;
		// a concurrent login for the same username may have already
		// registered one, which wins if multiple connectors aren't
		// allowed (the admission-time check is only advisory under
		// that race).
		if existing, ok := s.Client(client.User.Username); ok {
			client = existing
		} else {
			s.addClient(client)
		}
	}
	client.AddConnection(conn)
	s.metrics.IncConnections()
	s.emit(Event{Kind: "connection-status", User: client.User.Username, Conn: conn.Name, Role: conn.Type.String(), Status: conn.Status().String()})

	s.log.Info().
		Str("user", client.User.Username).
		Str("conn", conn.Name).
		Str("role", conn.Type.String()).
		Str("id", conn.ID().String()).
		Msg("mediator: connection established")

	s.runRoleLoop(client, conn)
}

// runRoleLoop dispatches to the loop matching conn's role and, once it
// returns, makes sure the connection is no longer reachable through the
// client's map even if the loop exited without an explicit close (e.g.
// on an unhandled status transition).
func (s *Server) runRoleLoop(client *Client, conn *Connection) {
	switch conn.Type {
	case RoleConnector:
		connectorLoop(s, client, conn)
	case RoleMain:
		mainLoop(s, client, conn)
	case RoleFrameSender:
		frameForwarderLoop(s, client, conn)
	case RoleFrameReceiver:
		passiveRoleLoop(s, conn)
	case RoleMouseSender, RoleKeyboardSender, RoleSettings:
		orderedForwarderLoop(s, client, conn)
	case RoleMouseReceiver, RoleKeyboardReceiver:
		passiveRoleLoop(s, conn)
	}

	if conn.Status() != Closed && conn.Type != RoleConnector {
		s.closeNamedConnection(client, conn.Name)
	}

	s.log.Info().
		Str("user", client.User.Username).
		Str("conn", conn.Name).
		Str("status", conn.Status().String()).
		Msg("mediator: role loop exited")
}
