package fakestation

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/transport"
)

// Server accepts satlink connections and serves plan calls and telemetry
// streams from in-memory state.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	plans    *PlanBook
	registry *Registry
	started  time.Time

	connsMu  sync.Mutex
	conns    map[transport.Conn]struct{}
	handlers sync.WaitGroup
	active   atomic.Int64
}

func New(cfg Config) (*Server, error) {
	cfg.Transport = cfg.Transport.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Transport.ValidateServer(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		log:      logging.WithComponent("fakestation"),
		plans:    NewPlanBook(cfg),
		registry: NewRegistry(),
		started:  time.Now(),
		conns:    make(map[transport.Conn]struct{}),
	}, nil
}

func (s *Server) Plans() *PlanBook {
	return s.plans
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// ActiveConns is the number of connections currently being served.
func (s *Server) ActiveConns() int64 {
	return s.active.Load()
}

// Run listens on the configured address, starts the admin surface when an
// admin address is set, and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.ListenAddr, s.cfg.Transport)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("addr", ln.Addr()).
		Str("transport", string(s.cfg.Transport.Kind)).
		Msg("fakestation.server listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		srv := &http.Server{Addr: addr, Handler: s.AdminRouter(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			s.log.Info().Str("addr", addr).Msg("fakestation.admin listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
			}
			close(adminErr)
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	} else {
		close(adminErr)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, ln) }()
	select {
	case err := <-serveErr:
		return err
	case err, ok := <-adminErr:
		if ok && err != nil {
			_ = ln.Close()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// Serve runs the accept loop on ln until ctx is cancelled or ln fails. It
// returns after every connection handler has exited.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeAllConns()
	})
	defer stop()
	defer s.handlers.Wait()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.untrackConn(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) trackConn(conn transport.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	active := s.active.Add(1)
	s.log.Debug().Str("remote", conn.RemoteAddr()).Int64("active", active).Msg("fakestation.server client connected")
}

func (s *Server) untrackConn(conn transport.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	remaining := s.active.Add(-1)
	s.log.Debug().Str("remote", conn.RemoteAddr()).Int64("active", remaining).Msg("fakestation.server client disconnected")
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]transport.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
