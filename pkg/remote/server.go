package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ltrt/ltrt/pkg/interfaces"
	"github.com/ltrt/ltrt/pkg/logger"
)

// maxMsgSize leaves room for uncompressed full-resolution frames
const maxMsgSize = 32 * 1024 * 1024

// Ensure Server implements the service API
var _ TrackerServer = (*Server)(nil)

// Server exposes a local tracker over gRPC
type Server struct {
	tracker interfaces.Tracker
	log     logger.Logger
	ready   atomic.Bool
	served  atomic.Int64
}

// NewServer wraps tracker for remote use
func NewServer(tracker interfaces.Tracker, log logger.Logger) *Server {
	return &Server{tracker: tracker, log: log.WithStage("tracker-server")}
}

// Track implements TrackerServer
func (s *Server) Track(ctx context.Context, req *TrackRequest) (*TrackResponse, error) {
	if !s.ready.Load() {
		return nil, status.Error(codes.Unavailable, "tracker warming up")
	}
	frame := req.Frame
	kps, err := s.tracker.Process(ctx, &frame)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Errorf(codes.Internal, "tracking failed: %v", err)
	}
	s.served.Add(1)
	return &TrackResponse{Keypoints: kps}, nil
}

// Health implements TrackerServer
func (s *Server) Health(context.Context, *HealthRequest) (*HealthResponse, error) {
	if !s.ready.Load() {
		return &HealthResponse{Ready: false, Detail: "warming up"}, nil
	}
	return &HealthResponse{Ready: true}, nil
}

// Served returns the number of frames tracked successfully
func (s *Server) Served() int64 { return s.served.Load() }

// Serve warms the tracker, then serves on lis until ctx is cancelled, at
// which point in-flight calls are allowed to finish
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterTrackerServer(srv, s)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Tracker server listening", logger.WithField("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()

	if w, ok := s.tracker.(interfaces.Warmer); ok {
		if err := w.Warmup(ctx); err != nil {
			srv.Stop()
			return fmt.Errorf("tracker warmup: %w", err)
		}
	}
	s.ready.Store(true)
	s.log.Success("Tracker ready")

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		s.log.Info("Tracker server stopped", logger.WithField("served", s.Served()))
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("tracker server: %w", err)
		}
		return nil
	}
}
