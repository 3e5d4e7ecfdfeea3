// Package client is the dialing side of satlink: the stream transport used by
// sessions and the unary plan calls.
package client

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/transport"
)

// Client issues unary plan calls. Every call uses its own connection.
type Client struct {
	endpoint string
	cfg      transport.Config
	log      zerolog.Logger
}

func New(endpoint string, cfg transport.Config) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return &Client{
		endpoint: endpoint,
		cfg:      cfg,
		log:      logging.WithComponent("client").With().Str("endpoint", endpoint).Logger(),
	}, nil
}

// ListPlans returns the plans whose AOS falls inside the requested window.
// An invalid window fails with InvalidArgument before anything is sent.
func (c *Client) ListPlans(ctx context.Context, req wire.ListPlans) ([]wire.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, err := call[wire.ListPlansResult](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return res.Plans, nil
}

func (c *Client) ReservePlan(ctx context.Context, req wire.ReservePlan) (wire.Plan, error) {
	if strings.TrimSpace(req.EntityID) == "" {
		return wire.Plan{}, wire.Errorf(wire.InvalidArgument, "missing entity_id")
	}
	res, err := call[wire.ReservePlanResult](ctx, c, req)
	if err != nil {
		return wire.Plan{}, err
	}
	return res.Plan, nil
}

func (c *Client) CancelPlan(ctx context.Context, planID string) error {
	_, err := call[wire.CancelPlanResult](ctx, c, wire.CancelPlan{PlanID: planID})
	return err
}

// call writes req, half-closes, and reads exactly one reply of type T.
func call[T wire.Message](ctx context.Context, c *Client, req wire.Message) (T, error) {
	var zero T
	if _, err := wire.EncodeFields(req); err != nil {
		return zero, wire.Errorf(wire.InvalidArgument, "%v", err)
	}
	name := schema.Name(req.MessageType())

	conn, err := transport.Dial(ctx, c.endpoint, c.cfg)
	if err != nil {
		c.log.Warn().Err(err).Str("call", name).Msg("client.call dial failed")
		return zero, wire.Errorf(wire.Unavailable, "dial %s: %v", c.endpoint, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	codec := wire.NewCodec(conn)
	if err := codec.Write(req); err != nil {
		return zero, c.callErr(ctx, name, err)
	}
	if err := conn.CloseWrite(); err != nil {
		c.log.Debug().Err(err).Str("call", name).Msg("client.call half-close failed")
	}
	res, err := wire.Expect[T](codec)
	if err != nil {
		return zero, c.callErr(ctx, name, err)
	}
	c.log.Debug().Str("call", name).Msg("client.call ok")
	return res, nil
}

func (c *Client) callErr(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return wire.Errorf(wire.Cancelled, "%s: %v", name, ctxErr)
	}
	if wire.StatusCode(err) != wire.Internal {
		c.log.Debug().Err(err).Str("call", name).Msg("client.call rejected")
		return err
	}
	c.log.Warn().Err(err).Str("call", name).Msg("client.call failed")
	return err
}
