package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/stream"
	"github.com/danmuck/satlink/internal/transport"
)

var ErrEndpointRequired = errors.New("client: endpoint required")

// StreamTransport opens one framed connection per session attempt.
type StreamTransport struct {
	endpoint string
	cfg      transport.Config
}

// NewStreamTransport validates cfg up front so that a bad certificate path is
// reported once instead of being retried as a connection failure.
func NewStreamTransport(endpoint string, cfg transport.Config) (*StreamTransport, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return &StreamTransport{endpoint: endpoint, cfg: cfg}, nil
}

func (t *StreamTransport) Open(ctx context.Context) (stream.Stream, error) {
	conn, err := transport.Dial(ctx, t.endpoint, t.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", stream.ErrTransport, t.endpoint, err)
	}
	return &codecStream{conn: conn, codec: wire.NewCodec(conn)}, nil
}

type codecStream struct {
	conn      transport.Conn
	codec     *wire.Codec
	closeOnce sync.Once
	closeErr  error
}

func (s *codecStream) Send(req wire.Request) error {
	return classify(s.codec.Write(req))
}

func (s *codecStream) Recv() (wire.Response, error) {
	resp, err := s.codec.ReadResponse()
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

func (s *codecStream) CloseSend() error {
	return s.conn.CloseWrite()
}

func (s *codecStream) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

// classify keeps peer status, schema, and decode errors intact and marks
// everything else as a transport failure.
func classify(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	var se *wire.StatusError
	var ve schema.ValidationError
	if errors.As(err, &se) || errors.As(err, &ve) || errors.Is(err, wire.ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w: %w", stream.ErrTransport, err)
}
