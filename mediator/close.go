package mediator

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// drainGrace bounds how long closeNamedConnection waits for a forwarder
// loop to notice Disconnecting and exit on its own before proceeding
// with teardown anyway. Forwarder loops re-check status every
// pollInterval while waiting for a partner, but a loop blocked in
// Advanced.Recv only re-checks once Recv returns, so teardown may
// proceed before such a loop has exited.
const drainGrace = 3 * pollInterval

// closeNamedConnection implements the per-connection graceful close of
// spec §4.8 steps 3-4, and doubles as the partner-pair teardown of §4.9:
// whichever side calls this first for a Connected connection "wins" (the
// guard below makes the other side's call, arriving via the command
// queue, a no-op).
func (s *Server) closeNamedConnection(client *Client, name string) {
	conn, ok := client.Connection(name)
	if !ok {
		return
	}
	switch conn.Status() {
	case Connected, Error:
		// Error reaches here when crashCloseClient force-set the partner's
		// own connection object (spec §4.8's crash fallback never walks
		// the partner's map itself); it still needs the normal teardown
		// below so it is actually removed and its socket actually closed.
	default:
		return // already tearing down: §4.9's race rule
	}

	conn.SetStatus(Disconnecting)

	if partner, ok := client.Partner(); ok {
		if pconnector, ok := partner.Connector(); ok {
			enqueueCommand(pconnector, "close:"+name)
		}
	}

	time.Sleep(drainGrace)

	conn.SetStatus(Disconnected)
	conn.SetStatus(Closing)
	client.RemoveConnection(name)
	_ = conn.Advanced.Close()
	conn.SetStatus(Closed)
	s.metrics.DecConnections()
	s.emit(Event{Kind: "connection-status", User: client.User.Username, Conn: conn.Name, Role: conn.Type.String(), Status: Closed.String()})

	if connector, ok := client.Connector(); ok && connector != conn {
		_ = sendFinished(connector)
	}
}

// closeClientGraceful implements §4.8's whole-client close: every
// non-connector connection closes first (in parallel, since each pair's
// teardown is independent), then the connector closes last.
func (s *Server) closeClientGraceful(client *Client) {
	client.SetAccepting(false)

	var names []string
	for _, conn := range client.Connections() {
		if conn.Type != RoleConnector {
			names = append(names, conn.Name)
		}
	}

	var eg errgroup.Group
	for _, name := range names {
		name := name
		eg.Go(func() error {
			s.closeNamedConnection(client, name)
			return nil
		})
	}
	_ = eg.Wait()

	if connector, ok := client.Connector(); ok {
		connector.SetStatus(Disconnecting)
		connector.SetStatus(Disconnected)
		connector.SetStatus(Closing)
		client.RemoveConnection(connector.Name)
		_ = connector.Advanced.Close()
		connector.SetStatus(Closed)
		s.metrics.DecConnections()
	}

	s.removeClient(client.User.Username)
}

// crashCloseClient implements §4.8's crash-close fallback: status ->
// ERROR, sockets forcibly closed, entries removed, with no attempt at
// orderly draining and no dependency on the connector (which may itself
// be the thing that crashed).
func (s *Server) crashCloseClient(client *Client) {
	for _, conn := range client.Connections() {
		conn.SetStatus(Error)
		client.RemoveConnection(conn.Name)
		_ = conn.Advanced.Close()
		conn.SetStatus(Closed)
		s.metrics.DecConnections()
		s.emit(Event{Kind: "connection-status", User: client.User.Username, Conn: conn.Name, Role: conn.Type.String(), Status: Closed.String()})

		if conn.Type != RoleConnector {
			if partner, ok := client.Partner(); ok {
				if pconn, ok := partner.Connection(conn.Name); ok && pconn.Status() == Connected {
					pconn.SetStatus(Error)
				}
			}
		}
	}
	s.removeClient(client.User.Username)
}
