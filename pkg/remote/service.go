package remote

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ltrt/ltrt/pkg/types"
)

const (
	serviceName  = "ltrt.tracker.v1.Tracker"
	methodTrack  = "/" + serviceName + "/Track"
	methodHealth = "/" + serviceName + "/Health"
)

// TrackRequest carries one frame to the remote tracker
type TrackRequest struct {
	Frame types.RawFrame `json:"frame"`
}

// TrackResponse carries the keypoints for one frame
type TrackResponse struct {
	Keypoints []types.Keypoint `json:"keypoints"`
}

// HealthRequest asks whether the tracker is ready for frames
type HealthRequest struct{}

// HealthResponse reports tracker readiness
type HealthResponse struct {
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// TrackerServer is the server API of the tracker service
type TrackerServer interface {
	Track(ctx context.Context, req *TrackRequest) (*TrackResponse, error)
	Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error)
}

// RegisterTrackerServer registers srv on s
func RegisterTrackerServer(s grpc.ServiceRegistrar, srv TrackerServer) {
	s.RegisterService(&trackerServiceDesc, srv)
}

var trackerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TrackerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Track", Handler: trackHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ltrt/tracker",
}

func trackHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TrackRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServer).Track(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTrack}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackerServer).Track(ctx, req.(*TrackRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodHealth}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackerServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}
