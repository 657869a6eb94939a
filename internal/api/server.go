package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/linklight/internal/bus"
	"github.com/nerrad567/linklight/internal/infrastructure/config"
	"github.com/nerrad567/linklight/internal/journal"
	"github.com/nerrad567/linklight/internal/lifecycle"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the part of lifecycle.Controller the API drives.
type Controller interface {
	State() lifecycle.State
	Start() error
	Stop() error
	Reset() error
}

// Journal lists recent transitions. journal.SQLiteRepository satisfies it.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Subscriber is the part of bus.MessageBus the WebSocket relay needs.
type Subscriber interface {
	Subscribe(topic string) bus.Subscription
	Unsubscribe(ch bus.Subscription, topics ...string)
}

// Logger is the logging interface used by the API server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     Logger
	Controller Controller
	Journal    Journal    // optional; /transitions answers 503 without it
	Bus        Subscriber // optional; the WebSocket stream stays silent without it
	DeviceID   string
	Version    string
}

// Server is the local HTTP control API.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     Logger
	controller Controller
	journal    Journal
	bus        Subscriber
	deviceID   string
	version    string
	started    time.Time

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		controller: deps.Controller,
		journal:    deps.Journal,
		bus:        deps.Bus,
		deviceID:   deps.DeviceID,
		version:    deps.Version,
		started:    time.Now(),
	}
	s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	return s, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Transitions published on the bus are relayed to WebSocket clients
// subscribed to the "lifecycle.transition" channel.
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.bus != nil {
		sub := s.bus.Subscribe(bus.TopicTransitions)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.relayTransitions(srvCtx, sub)
		}()
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// relayTransitions forwards bus transitions to the hub until ctx ends
// or the bus closes.
func (s *Server) relayTransitions(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if tr, ok := msg.(lifecycle.Transition); ok {
				s.hub.Broadcast(bus.TopicTransitions, tr)
			}
		case <-ctx.Done():
			// The bus may be delivering to sub; unsubscribe from elsewhere.
			go s.bus.Unsubscribe(sub)
			for range sub { //nolint:revive // drain until the bus closes sub
			}
			return
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then disconnects any WebSocket clients.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.hub.closeAll()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
