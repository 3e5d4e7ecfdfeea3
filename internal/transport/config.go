package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects the byte-stream carrier for a session.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindTLS  Kind = "tls"
	KindQUIC Kind = "quic"
)

var (
	ErrInvalidKind         = errors.New("transport: invalid kind")
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired   = errors.New("transport: tls ca file required")
	ErrMTLSRequiresTLS     = errors.New("transport: mutual tls requires tls or quic")
)

// TLSConfig holds certificate material for TLS and QUIC. QUIC falls back to a
// self-signed server certificate when no files are configured.
type TLSConfig struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	Mutual             bool
	InsecureSkipVerify bool
}

type Config struct {
	Kind             Kind
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// Linger bounds how long Close waits for the peer to drain a QUIC stream.
	Linger time.Duration
	TLS    TLSConfig
}

func DefaultConfig() Config {
	return Config{
		Kind:             KindTCP,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		Linger:           500 * time.Millisecond,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Kind = NormalizeKind(c.Kind)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Linger <= 0 {
		c.Linger = def.Linger
	}
	return c
}

func NormalizeKind(k Kind) Kind {
	if strings.TrimSpace(string(k)) == "" {
		return KindTCP
	}
	return Kind(strings.ToLower(strings.TrimSpace(string(k))))
}

func (c Config) ValidateClient() error {
	kind := NormalizeKind(c.Kind)
	switch kind {
	case KindTCP, KindTLS, KindQUIC:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, c.Kind)
	}
	if c.TLS.Mutual {
		if kind == KindTCP {
			return ErrMTLSRequiresTLS
		}
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	if kind == KindTLS && strings.TrimSpace(c.TLS.CAFile) == "" && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	return nil
}

func (c Config) ValidateServer() error {
	kind := NormalizeKind(c.Kind)
	switch kind {
	case KindTCP, KindTLS, KindQUIC:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, c.Kind)
	}
	if c.TLS.Mutual && kind == KindTCP {
		return ErrMTLSRequiresTLS
	}
	if kind == KindTLS {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	if c.TLS.Mutual && strings.TrimSpace(c.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}
