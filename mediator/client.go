package mediator

import (
	"sync"
)

// User identifies and authenticates a Client (spec §3).
type User struct {
	Username string
	Password string
}

// Client is the server-side representation of one logged-in user: a set
// of named connections and a lookup (not a pointer) to a partner client
// (spec §3, §9 "Cyclic references... are lookup relations, not
// ownership").
type Client struct {
	User User

	mu          sync.RWMutex
	connections map[string]*Connection
	partner     string // username, resolved through Server.clients at each use
	accepting   bool

	server *Server // for partner lookups and metrics; never locked from here
}

// newClient constructs an empty Client accepting new connections.
func newClient(user User, server *Server) *Client {
	return &Client{
		User:        user,
		connections: make(map[string]*Connection),
		accepting:   true,
		server:      server,
	}
}

// AddConnection attaches conn under its Name. Per invariant 5, this is
// the only way a name becomes visible in the client's map.
func (c *Client) AddConnection(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections[conn.Name] = conn
}

// RemoveConnection detaches the connection named name, if present.
// Spec §3: "Closed connections are removed from their owning client's
// map before their resources are released" — callers must call this
// before releasing conn's resources, not after.
func (c *Client) RemoveConnection(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connections, name)
}

// Connection looks up the connection named name.
func (c *Client) Connection(name string) (*Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[name]
	return conn, ok
}

// Connections returns a snapshot slice of all live connections.
func (c *Client) Connections() []*Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		out = append(out, conn)
	}
	return out
}

// ConnectionCount reports the number of live connections.
func (c *Client) ConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.connections)
}

// Connector returns this client's connector connection, if attached.
func (c *Client) Connector() (*Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.connections {
		if conn.Type == RoleConnector {
			return conn, true
		}
	}
	return nil, false
}

// SetPartner assigns the partner username. It is the caller's
// responsibility to have already verified preconditions (target client
// exists, no forwarding connections attached) per §4.7's "set partner".
func (c *Client) SetPartner(username string) {
	c.mu.Lock()
	c.partner = username
	c.mu.Unlock()
}

// PartnerUsername returns the currently configured partner username, or
// "" if none is set.
func (c *Client) PartnerUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partner
}

// Partner resolves the current partner username through the server's
// client map. The result may be stale the instant after it is returned
// (spec §5: "consumers must tolerate the pointer being stale on the next
// access") — callers must not cache it across a yield point.
func (c *Client) Partner() (*Client, bool) {
	username := c.PartnerUsername()
	if username == "" {
		return nil, false
	}
	return c.server.Client(username)
}

// HasForwardingConnections reports whether any non-connector,
// non-main connection is currently attached, the precondition §4.7
// imposes on changing partner.
func (c *Client) HasForwardingConnections() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.connections {
		if conn.Type != RoleConnector && conn.Type != RoleMain {
			return true
		}
	}
	return false
}

// SetAccepting toggles whether the client will admit new sibling
// connections; used while a client-wide close is in progress.
func (c *Client) SetAccepting(v bool) {
	c.mu.Lock()
	c.accepting = v
	c.mu.Unlock()
}

// Accepting reports whether the client currently admits new connections.
func (c *Client) Accepting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accepting
}
