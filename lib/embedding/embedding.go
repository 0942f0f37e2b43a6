// Package embedding runs the XMPP server inside another program, such as
// a game-client test harness, behind a small lifecycle interface.
package embedding

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/credential"
	"github.com/go-i2p/go-xmpp-server/lib/sasl"
	"github.com/go-i2p/go-xmpp-server/lib/server"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

// Lifecycle defines the interface for controlling an embedded server.
type Lifecycle interface {
	// Start begins serving XMPP clients. Non-blocking.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the server. ctx bounds the wait for
	// clients to drain.
	Stop(ctx context.Context) error

	// Wait blocks until the server has stopped and returns the error
	// that ended the accept loop, if any.
	Wait() error

	// Running returns true if the server is actively serving.
	Running() bool
}

// Server is an embeddable XMPP server.
type Server struct {
	config    *Config
	log       *logrus.Logger
	store     credential.Store
	ownsStore bool
	xmpp      *server.Server

	mu       sync.Mutex
	running  atomic.Bool
	stopped  bool
	done     chan struct{}
	err      error
	cancelFn context.CancelFunc
}

var _ Lifecycle = (*Server)(nil)

// New creates an embedded server with the given options applied to
// DefaultConfig.
func New(opts ...Option) (*Server, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	store, owns, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	mechanisms := cfg.Mechanisms
	if mechanisms == nil {
		plain := cfg.Plain
		if plain.Logger == nil {
			plain.Logger = log
		}
		mechanisms = sasl.NewDefaultRegistry(store, plain)
	}

	xmpp, err := server.NewServer(cfg.Server, mechanisms, log)
	if err != nil {
		if owns {
			_ = credential.Close(store)
		}
		return nil, err
	}
	for _, hook := range cfg.Hooks {
		xmpp.OnConnection(hook)
	}

	return &Server{
		config:    cfg,
		log:       log,
		store:     store,
		ownsStore: owns,
		xmpp:      xmpp,
		done:      make(chan struct{}),
	}, nil
}

func buildConfig(opts []Option) (*Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildStore(cfg *Config) (credential.Store, bool, error) {
	if cfg.Store != nil {
		return cfg.Store, false, nil
	}
	store, err := credential.New(context.Background(), cfg.Credentials)
	if err != nil {
		return nil, false, err
	}
	return store, true, nil
}

// Start binds the listener, unless one was supplied, and serves in the
// background. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.running.Load() {
		return ErrAlreadyRunning
	}

	ln := s.config.Listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", s.config.Server.ListenAddr)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.running.Store(true)

	go func() {
		err := s.xmpp.Serve(ln)

		s.mu.Lock()
		s.err = err
		s.running.Store(false)
		s.mu.Unlock()

		close(s.done)
	}()

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("Embedded XMPP server started")
	return nil
}

// Stop disconnects every client and waits for the accept loop to exit.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.cancelFn != nil
	s.mu.Unlock()

	s.log.Info("Stopping embedded XMPP server...")

	if started {
		s.cancelFn()
	}
	if err := s.xmpp.Stop(ctx); err != nil {
		s.log.WithError(err).Warn("Error stopping server")
	}
	if started {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	} else {
		close(s.done)
	}

	if s.ownsStore {
		if err := credential.Close(s.store); err != nil {
			s.log.WithError(err).Warn("Error closing credential store")
		}
	}

	s.log.Info("Embedded XMPP server stopped")
	return nil
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	// Stop can win the race against the accept loop starting, in which
	// case Serve reports the server as already closed.
	if errors.Is(s.err, net.ErrClosed) || errors.Is(s.err, util.ErrServerClosed) {
		return nil
	}
	return s.err
}

// Running returns true if the server is actively serving.
func (s *Server) Running() bool {
	return s.running.Load()
}

// XMPP returns the underlying server for connection lookups, broadcasts
// and observers.
func (s *Server) XMPP() *server.Server {
	return s.xmpp
}

// Store returns the credential store in use.
func (s *Server) Store() credential.Store {
	return s.store
}

// Config returns the configuration the server was built with.
func (s *Server) Config() *Config {
	return s.config
}
