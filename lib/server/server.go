package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/sasl"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

const (
	// stopPollInterval is how often Stop checks whether connections finished.
	stopPollInterval = 20 * time.Millisecond

	// acceptRetryDelay is the pause after a transient accept failure.
	acceptRetryDelay = 50 * time.Millisecond
)

// Server is the XMPP client-to-server listener. It owns the registry of
// live connections and the reconnect throttle.
type Server struct {
	config     *Config
	mechanisms *sasl.Registry
	log        *logrus.Entry
	throttle   *throttle

	mu          sync.Mutex
	listener    net.Listener
	connections map[*Connection]struct{}
	hooks       []func(*Connection)
	running     atomic.Bool
	closed      atomic.Bool

	// bindMu serializes resource binding so conflict checks see a stable registry.
	bindMu sync.Mutex

	// wg tracks the accept loop and the background tickers.
	wg sync.WaitGroup

	// done is closed when the server shuts down.
	done chan struct{}
}

// NewServer creates a server. mechanisms lists the SASL mechanisms offered
// to clients; log may be nil to use the standard logrus logger.
func NewServer(config *Config, mechanisms *sasl.Registry, log logrus.FieldLogger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if mechanisms == nil {
		return nil, &ConfigError{Field: "Mechanisms", Message: "cannot be nil"}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Server{
		config:      config,
		mechanisms:  mechanisms,
		log:         log.WithField("component", "xmpp"),
		throttle:    newThrottle(config.ThrottleWindow),
		connections: make(map[*Connection]struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Mechanisms returns the SASL mechanism registry.
func (s *Server) Mechanisms() *sasl.Registry {
	return s.mechanisms
}

// OnConnection registers a hook called for every accepted connection
// before its loops start. Hooks typically Subscribe observers.
func (s *Server) OnConnection(hook func(*Connection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Start binds the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return util.ErrServerClosed
	}
	if s.running.Load() {
		return util.ErrServerRunning
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(listener); err != nil {
			s.log.WithError(err).Error("Accept loop stopped")
		}
	}()
	return nil
}

// ListenAndServe starts listening on the configured address and serves clients.
// This method blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener and handles them.
// This method blocks until the server is closed.
func (s *Server) Serve(listener net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		listener.Close()
		return util.ErrServerRunning
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		listener.Close()
		return util.ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.startBackground()
	s.log.WithFields(logrus.Fields{
		"addr":   listener.Addr().String(),
		"domain": s.config.Domain,
	}).Info("XMPP server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.WithError(err).Warn("Accept failed")
			time.Sleep(acceptRetryDelay)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection admits or throttles one accepted socket and runs it.
func (s *Server) handleConnection(raw net.Conn) {
	ip := hostOf(raw.RemoteAddr())
	wait, admitted := s.throttle.Admit(ip)
	if !admitted {
		s.log.WithFields(logrus.Fields{
			"remote": raw.RemoteAddr().String(),
			"wait":   wait.Round(time.Millisecond).String(),
		}).WithError(util.ErrThrottled).Info("Connection rejected")
		s.rejectThrottled(raw, wait)
		return
	}
	defer s.throttle.Release(ip)

	c := newConnection(s, raw)

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		raw.Close()
		return
	}
	s.connections[c] = struct{}{}
	hooks := append([]func(*Connection){}, s.hooks...)
	s.mu.Unlock()

	c.log.Info("Client connected")
	for _, hook := range hooks {
		hook(c)
	}

	c.serve()
	c.log.Info("Client disconnected")
}

// remove drops c from the registry. Called once from Connection.disconnect.
func (s *Server) remove(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c)
	s.mu.Unlock()
}

// Stop closes the listener, disconnects every client with system-shutdown
// and waits up to the disconnect timeout, or until ctx is done, for them
// to finish. Clients still running after that are closed forcibly.
func (s *Server) Stop(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	listener := s.listener
	connections := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		connections = append(connections, c)
	}
	s.connections = make(map[*Connection]struct{})
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	s.log.WithField("connections", len(connections)).Info("Stopping XMPP server")
	for _, c := range connections {
		c.Fail(util.ErrServerClosed)
	}

	timer := time.NewTimer(s.config.Timeouts.Disconnect)
	defer timer.Stop()
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

wait:
	for !allDisposed(connections) {
		select {
		case <-ticker.C:
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	for _, c := range connections {
		if !c.isDisposed() {
			c.log.Debug("Forcing connection closed")
			c.forceClose()
		}
	}

	s.wg.Wait()
	s.running.Store(false)
	return nil
}

func allDisposed(connections []*Connection) bool {
	for _, c := range connections {
		if !c.isDisposed() {
			return false
		}
	}
	return true
}

// Close stops the server without an external deadline.
func (s *Server) Close() error {
	return s.Stop(context.Background())
}

// Connections returns a snapshot of the live connections.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		out = append(out, c)
	}
	return out
}

// FindConnection returns the first live connection matching pred, or nil.
func (s *Server) FindConnection(pred func(*Connection) bool) *Connection {
	for _, c := range s.Connections() {
		if pred(c) {
			return c
		}
	}
	return nil
}

// FindConnections returns every live connection matching pred.
func (s *Server) FindConnections(pred func(*Connection) bool) []*Connection {
	var out []*Connection
	for _, c := range s.Connections() {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// FindByJID returns the connections bound to j. A bare JID matches every
// resource of the account.
func (s *Server) FindByJID(j protocol.JID) []*Connection {
	return s.FindConnections(func(c *Connection) bool {
		if !c.IsAuthenticated() {
			return false
		}
		cj := c.JID()
		if j.IsFull() {
			return cj.Equal(j)
		}
		return cj.Bare().Equal(j.Bare())
	})
}

// Broadcast queues elem on every connection matching pred (all when pred
// is nil) and returns how many accepted it.
func (s *Server) Broadcast(elem *protocol.Element, pred func(*Connection) bool) int {
	n := 0
	for _, c := range s.Connections() {
		if pred != nil && !pred(c) {
			continue
		}
		if err := c.SendAsync(elem); err == nil {
			n++
		}
	}
	return n
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Done returns a channel that is closed when the server shuts down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
