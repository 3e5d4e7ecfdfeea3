package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
)

type closeWriter interface {
	CloseWrite() error
}

// streamConn adapts *net.TCPConn and *tls.Conn.
type streamConn struct {
	net.Conn
}

func (c streamConn) CloseWrite() error {
	cw, ok := c.Conn.(closeWriter)
	if !ok {
		return errors.New("transport: connection does not support half-close")
	}
	return cw.CloseWrite()
}

func (c streamConn) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}

func dialTCP(ctx context.Context, addr string, cfg Config) (Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Kind != KindTLS {
		return streamConn{rawConn}, nil
	}

	tlsCfg, err := clientTLSConfig(addr, cfg.TLS, cfg.Kind)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return streamConn{conn}, nil
}

type tcpListener struct {
	ln net.Listener
}

func listenTCP(addr string, cfg Config) (*tcpListener, error) {
	if cfg.Kind != KindTLS {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tcpListener{ln: ln}, nil
	}
	tlsCfg, err := serverTLSConfig(cfg.TLS, cfg.Kind)
	if err != nil {
		return nil, err
	}
	ln, err := tls.Listen("tcp", addr, tlsCfg)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return streamConn{conn}, nil
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}
