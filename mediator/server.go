// Package mediator implements the mediator server of spec §2: the
// accept loop, authentication/admission, per-connection role selection,
// and the partner-forwarding loops, built on transport.AdvancedConnection
// and buffer.Buffer.
package mediator

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coregx/relay/metrics"
	"github.com/coregx/relay/store"
)

// Config bundles the runtime parameters config.Config resolves from
// YAML (SPEC_FULL.md §4.10), kept dependency-free of the config package
// itself so tests can construct one by hand.
type Config struct {
	RefreshTimeout          time.Duration
	BufferCapacities        map[Role]int
	CommandQueueCapacity    int
	AllowMultipleConnectors bool
	TLSConfig               *tls.Config
}

// DefaultConfig resolves Open Question (b) and (c) from SPEC_FULL.md.
func DefaultConfig() Config {
	return Config{
		RefreshTimeout: 1500 * time.Millisecond,
		BufferCapacities: map[Role]int{
			RoleKeyboardSender:   256,
			RoleKeyboardReceiver: 256,
			RoleMouseSender:      256,
			RoleMouseReceiver:    256,
			RoleSettings:         32,
		},
		CommandQueueCapacity:    64,
		AllowMultipleConnectors: false,
	}
}

func (cfg Config) bufferCapacity(role Role) int {
	if cap, ok := cfg.BufferCapacities[role]; ok {
		return cap
	}
	return 0
}

// Server is the mediator: it owns the client map exclusively (spec §5)
// and runs the accept loop plus every per-connection worker.
type Server struct {
	cfg     Config
	creds   store.CredentialStore
	tokens  *TokenGenerator
	log     zerolog.Logger
	metrics *metrics.Registry

	mu      sync.RWMutex
	clients map[string]*Client
	events  EventSink

	listener net.Listener
	running  atomicBool
	wg       sync.WaitGroup
}

// NewServer constructs a Server bound to creds for authentication.
func NewServer(cfg Config, creds store.CredentialStore, log zerolog.Logger, reg *metrics.Registry) *Server {
	return &Server{
		cfg:     cfg,
		creds:   creds,
		tokens:  NewTokenGenerator(),
		log:     log,
		metrics: reg,
		clients: make(map[string]*Client),
	}
}

// Client looks up a connected client by username.
func (s *Server) Client(username string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[username]
	return c, ok
}

// ClientUsernames returns every currently-connected username, for the
// "get all connected usernames" RPC.
func (s *Server) ClientUsernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.clients))
	for u := range s.clients {
		out = append(out, u)
	}
	return out
}

// ClientCount reports how many clients are currently connected.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	s.clients[c.User.Username] = c
	s.mu.Unlock()
	s.metrics.IncClients()
	s.emit(Event{Kind: "client-connected", User: c.User.Username})
}

// removeClient drops c from the server's client map: the single
// authoritative "gone" signal (spec §9).
func (s *Server) removeClient(username string) {
	s.mu.Lock()
	delete(s.clients, username)
	s.mu.Unlock()
	s.metrics.DecClients()
	s.emit(Event{Kind: "client-disconnected", User: username})
}

// Running reports whether the server is still accepting and serving
// connections; every blocking wait in a role loop re-checks this
// alongside its own connection's status (spec §5).
func (s *Server) Running() bool { return s.running.get() }

// Serve runs the accept loop on l until Shutdown/Close stops it. It
// blocks until the loop exits. Accept errors are logged and the loop
// keeps going, so Serve always returns nil.
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	s.running.set(true)
	s.log.Info().Str("addr", l.Addr().String()).Msg("mediator: accept loop starting")

	for s.running.get() {
		conn, err := l.Accept()
		if err != nil {
			if !s.running.get() {
				return nil
			}
			s.log.Warn().Err(err).Msg("mediator: accept error")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
	return nil
}

// Shutdown stops accepting new sockets, then gracefully closes every
// client (spec §4.8's orderly path) before returning.
func (s *Server) Shutdown() error {
	s.stopAccepting()

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	var eg errgroup.Group
	for _, c := range clients {
		c := c
		eg.Go(func() error {
			s.closeClientGraceful(c)
			return nil
		})
	}
	_ = eg.Wait()

	s.wg.Wait()
	return nil
}

// Close force-closes every connection immediately (crash-close, spec
// §4.8), skipping the graceful drain.
func (s *Server) Close() error {
	s.stopAccepting()

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		s.crashCloseClient(c)
	}
	s.wg.Wait()
	return nil
}

// QuickClose stops accepting, then crash-closes everything without
// attempting the graceful path first (SPEC_FULL.md §4.12).
func (s *Server) QuickClose() error {
	return s.Close()
}

func (s *Server) stopAccepting() {
	s.running.set(false)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

type atomicBool struct {
	mu  sync.RWMutex
	val bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	a.val = v
	a.mu.Unlock()
}

func (a *atomicBool) get() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.val
}
