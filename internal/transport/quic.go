package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const quicIdleTimeout = 30 * time.Second

// quicConn maps one QUIC stream onto Conn. The client side owns its UDP
// transport and closes it with the connection.
type quicConn struct {
	qconn  *quic.Conn
	stream *quic.Stream
	tr     *quic.Transport
	linger time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (c *quicConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

func (c *quicConn) CloseWrite() error {
	return c.stream.Close()
}

func (c *quicConn) RemoteAddr() string {
	return c.qconn.RemoteAddr().String()
}

// Close finishes the send side, waits up to linger for the peer to go away so
// buffered frames are delivered, then tears the connection down.
func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stream.Close()
		timer := time.NewTimer(c.linger)
		select {
		case <-c.qconn.Context().Done():
		case <-timer.C:
		}
		timer.Stop()
		c.stream.CancelRead(0)
		c.closeErr = c.qconn.CloseWithError(0, "")
		if c.tr != nil {
			_ = c.tr.Close()
		}
	})
	return c.closeErr
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: quicIdleTimeout / 3,
	}
}

func dialQUIC(ctx context.Context, addr string, cfg Config) (Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}
	tr := &quic.Transport{Conn: udpConn}

	tlsCfg, err := clientTLSConfig(addr, cfg.TLS, cfg.Kind)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	qconn, err := tr.Dial(dialCtx, udpAddr, tlsCfg, quicConfig())
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}
	stream, err := qconn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = qconn.CloseWithError(1, "open stream failed")
		_ = tr.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &quicConn{qconn: qconn, stream: stream, tr: tr, linger: cfg.Linger}, nil
}

type quicListener struct {
	tr        *quic.Transport
	ln        *quic.Listener
	linger    time.Duration
	handshake time.Duration
}

func listenQUIC(addr string, cfg Config) (*quicListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	tlsCfg, err := serverTLSConfig(cfg.TLS, cfg.Kind)
	if err != nil {
		return nil, fmt.Errorf("server TLS: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}
	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(tlsCfg, quicConfig())
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}
	return &quicListener{tr: tr, ln: ln, linger: cfg.Linger, handshake: cfg.HandshakeTimeout}, nil
}

// Accept waits for a connection and its first stream. The stream becomes
// visible once the client writes to it; connections that stay silent past the
// handshake timeout are dropped.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	for {
		qconn, err := l.ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, quic.ErrTransportClosed) {
				err = net.ErrClosed
			}
			return nil, fmt.Errorf("accept QUIC connection: %w", err)
		}
		streamCtx, cancel := context.WithTimeout(ctx, l.handshake)
		stream, err := qconn.AcceptStream(streamCtx)
		cancel()
		if err != nil {
			_ = qconn.CloseWithError(1, "no stream")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return &quicConn{qconn: qconn, stream: stream, linger: l.linger}, nil
	}
}

func (l *quicListener) Addr() string {
	return l.tr.Conn.LocalAddr().String()
}

func (l *quicListener) Close() error {
	_ = l.ln.Close()
	return l.tr.Close()
}
