// Package transport carries framed satlink traffic over TCP, TLS, or QUIC.
package transport

import (
	"context"
	"io"
)

// Conn is one bidirectional byte stream. CloseWrite half-closes the sending
// side so the peer reads io.EOF while this side can keep reading.
type Conn interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
	RemoteAddr() string
}

type Listener interface {
	// Accept blocks until a peer connects. Close unblocks a pending Accept.
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Dial connects to addr using the carrier selected by cfg.Kind.
func Dial(ctx context.Context, addr string, cfg Config) (Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindQUIC:
		return dialQUIC(ctx, addr, cfg)
	default:
		return dialTCP(ctx, addr, cfg)
	}
}

// Listen binds addr using the carrier selected by cfg.Kind.
func Listen(addr string, cfg Config) (Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindQUIC:
		return listenQUIC(addr, cfg)
	default:
		return listenTCP(addr, cfg)
	}
}
