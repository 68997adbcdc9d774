package mediator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/coregx/relay/buffer"
	"github.com/coregx/relay/transport"
)

// Role is the closed set of connection types from spec §4.5. Each
// selects exactly one role main loop (§4.7).
type Role int

const (
	RoleConnector Role = iota
	RoleMain
	RoleFrameSender
	RoleFrameReceiver
	RoleMouseSender
	RoleMouseReceiver
	RoleKeyboardSender
	RoleKeyboardReceiver
	RoleSettings
)

func (r Role) String() string {
	switch r {
	case RoleConnector:
		return "connector"
	case RoleMain:
		return "main"
	case RoleFrameSender:
		return "frame-sender"
	case RoleFrameReceiver:
		return "frame-receiver"
	case RoleMouseSender:
		return "mouse-sender"
	case RoleMouseReceiver:
		return "mouse-receiver"
	case RoleKeyboardSender:
		return "keyboard-sender"
	case RoleKeyboardReceiver:
		return "keyboard-receiver"
	case RoleSettings:
		return "settings"
	default:
		return "unknown"
	}
}

// ParseRole maps the wire string used during admission (spec §6's
// "type" field) to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "connector":
		return RoleConnector, true
	case "main":
		return RoleMain, true
	case "frame-sender":
		return RoleFrameSender, true
	case "frame-receiver":
		return RoleFrameReceiver, true
	case "mouse-sender":
		return RoleMouseSender, true
	case "mouse-receiver":
		return RoleMouseReceiver, true
	case "keyboard-sender":
		return RoleKeyboardSender, true
	case "keyboard-receiver":
		return RoleKeyboardReceiver, true
	case "settings":
		return RoleSettings, true
	default:
		return 0, false
	}
}

// Status is the connection lifecycle state machine of spec §4.4.
type Status int

const (
	NotStarted Status = iota
	Connecting
	Connected
	Disconnecting
	Disconnected
	Closing
	Closed
	Error
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	case Disconnected:
		return "DISCONNECTED"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// statusBox is a mutex-guarded Status with broadcast-on-change, so
// forwarder loops can wait for a partner's connection to reach Connected
// without busy-polling faster than necessary (spec §5's cooperative
// poll-waits).
type statusBox struct {
	mu      sync.RWMutex
	value   Status
	waiters chan struct{}
}

func newStatusBox(initial Status) *statusBox {
	return &statusBox{value: initial, waiters: make(chan struct{})}
}

func (s *statusBox) Get() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (s *statusBox) Set(v Status) {
	s.mu.Lock()
	s.value = v
	old := s.waiters
	s.waiters = make(chan struct{})
	s.mu.Unlock()
	close(old)
}

// changed returns a channel that closes the next time Set is called,
// for select-based waits.
func (s *statusBox) changed() chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiters
}

// Connection is one logical substream between a user and the mediator
// (spec §3, §4.4). Name is unique within the owning Client.
type Connection struct {
	Name string
	Type Role

	status statusBox
	id     uuid.UUID // correlation ID for logging only; never on the wire

	Advanced *transport.AdvancedConnection

	// commandQueue is populated only for Connector connections (spec
	// §3's "for connectors only"); nil otherwise.
	commandQueue *buffer.Buffer
}

// NewConnection constructs a Connection in NOT_STARTED state. cmdQueueCap
// is only meaningful for RoleConnector; pass 0 for every other role.
func NewConnection(name string, role Role, cmdQueueCap int) *Connection {
	c := &Connection{
		Name:     name,
		Type:     role,
		status:   *newStatusBox(NotStarted),
		id:       uuid.New(),
		Advanced: transport.New(),
	}
	if role == RoleConnector {
		c.commandQueue = buffer.New(buffer.Buffered, cmdQueueCap)
	}
	return c
}

// ID returns the connection's logging correlation identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// Status returns the connection's current lifecycle state.
func (c *Connection) Status() Status { return c.status.Get() }

// SetStatus transitions the connection to v, waking anything blocked in
// WaitFor.
func (c *Connection) SetStatus(v Status) { c.status.Set(v) }

// WaitFor blocks until the connection's status is v, stop closes, or the
// connection reaches a terminal state incompatible with ever reaching v
// (Closed, or Error when v is Connected). Returns the status observed
// when it stopped waiting.
func (c *Connection) WaitFor(v Status, stop <-chan struct{}) Status {
	for {
		cur := c.Status()
		if cur == v {
			return cur
		}
		if cur == Closed || (v == Connected && cur == Error) {
			return cur
		}
		select {
		case <-c.status.changed():
		case <-stop:
			return c.Status()
		}
	}
}

// CommandQueue returns the connector's outbound command queue, or nil if
// this connection is not a RoleConnector.
func (c *Connection) CommandQueue() *buffer.Buffer { return c.commandQueue }
