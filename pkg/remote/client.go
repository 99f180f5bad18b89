package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ltrt/ltrt/pkg/types"
)

const (
	// DefaultCallTimeout bounds one Track call
	DefaultCallTimeout = 2 * time.Second

	healthPollInterval = 100 * time.Millisecond
)

// Client is an interfaces.Tracker backed by a remote tracker server.
// Closing the client aborts any call in flight.
type Client struct {
	camera      types.CameraID
	target      string
	conn        *grpc.ClientConn
	callTimeout time.Duration
}

// Dial creates a client for target. The connection is established lazily;
// Warmup waits for the server to be reachable and ready.
func Dial(camera types.CameraID, target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("%s tracker at %s: %w", camera, target, err)
	}
	return &Client{
		camera:      camera,
		target:      target,
		conn:        conn,
		callTimeout: DefaultCallTimeout,
	}, nil
}

// SetCallTimeout overrides the per-frame deadline
func (c *Client) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.callTimeout = d
	}
}

// Target returns the server address
func (c *Client) Target() string { return c.target }

// Process implements interfaces.Tracker
func (c *Client) Process(ctx context.Context, frame *types.RawFrame) ([]types.Keypoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp := new(TrackResponse)
	if err := c.conn.Invoke(ctx, methodTrack, &TrackRequest{Frame: *frame}, resp); err != nil {
		return nil, fmt.Errorf("%s remote track: %w", c.camera, err)
	}
	return resp.Keypoints, nil
}

// Warmup implements interfaces.Warmer: it polls Health until the server
// reports ready or ctx ends
func (c *Client) Warmup(ctx context.Context) error {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		resp := new(HealthResponse)
		err := c.conn.Invoke(ctx, methodHealth, &HealthRequest{}, resp, grpc.WaitForReady(true))
		if err == nil && resp.Ready {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("%s tracker at %s not ready: %w", c.camera, c.target, err)
			}
			return fmt.Errorf("%s tracker at %s not ready: %w", c.camera, c.target, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close implements io.Closer
func (c *Client) Close() error {
	return c.conn.Close()
}
