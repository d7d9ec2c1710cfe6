package server

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tejusbharadwaj/hydrolink/internal/api"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

const (
	listMetersMethod   = "/" + ServiceName + "/ListMeters"
	getMeterMethod     = "/" + ServiceName + "/GetMeter"
	refreshMeterMethod = "/" + ServiceName + "/RefreshMeter"
)

// MeterReader is the part of an account the meter service serves from
type MeterReader interface {
	ListDeviceViews() []models.DeviceView
	DeviceView(deviceID string) (models.DeviceView, error)
	RefreshDevice(ctx context.Context, deviceID string) (models.DeviceView, error)
}

// MetersServer is the server API of the hydrolink.Meters service. Messages
// are protobuf well-known types; a meter is a Struct with the DeviceView
// JSON fields.
type MetersServer interface {
	ListMeters(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetMeter(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	RefreshMeter(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// MetersService serves the live meter views of one account
type MetersService struct {
	reader MeterReader
}

func NewMetersService(reader MeterReader) *MetersService {
	return &MetersService{reader: reader}
}

// ListMeters returns every known meter, stale ones included
func (s *MetersService) ListMeters(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	views := s.reader.ListDeviceViews()
	values := make([]interface{}, len(views))
	for i, view := range views {
		fields, err := viewFields(view)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to encode meter %s: %v", view.ID, err)
		}
		values[i] = fields
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode meters: %v", err)
	}
	return list, nil
}

// GetMeter projects one meter from the current dataset
func (s *MetersService) GetMeter(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "meter id is required")
	}
	view, err := s.reader.DeviceView(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return viewStruct(view)
}

// RefreshMeter runs a refresh cycle and returns the meter's new view
func (s *MetersService) RefreshMeter(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "meter id is required")
	}
	view, err := s.reader.RefreshDevice(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return viewStruct(view)
}

func toStatus(err error) error {
	switch {
	case api.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, api.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case api.IsAuthError(err):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// viewFields converts a view to the generic form structpb accepts
func viewFields(view models.DeviceView) (map[string]interface{}, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func viewStruct(view models.DeviceView) (*structpb.Struct, error) {
	fields, err := viewFields(view)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode meter %s: %v", view.ID, err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode meter %s: %v", view.ID, err)
	}
	return out, nil
}

// RegisterMetersServer registers the hydrolink.Meters service on s
func RegisterMetersServer(s grpc.ServiceRegistrar, srv MetersServer) {
	s.RegisterService(&metersServiceDesc, srv)
}

var metersServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MetersServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListMeters", Handler: listMetersHandler},
		{MethodName: "GetMeter", Handler: getMeterHandler},
		{MethodName: "RefreshMeter", Handler: refreshMeterHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hydrolink/meters",
}

func listMetersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MetersServer).ListMeters(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMetersMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MetersServer).ListMeters(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getMeterHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MetersServer).GetMeter(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getMeterMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MetersServer).GetMeter(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshMeterHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MetersServer).RefreshMeter(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: refreshMeterMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MetersServer).RefreshMeter(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// MetersClient calls the hydrolink.Meters service
type MetersClient struct {
	conn grpc.ClientConnInterface
}

func NewMetersClient(conn grpc.ClientConnInterface) *MetersClient {
	return &MetersClient{conn: conn}
}

func (c *MetersClient) ListMeters(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, listMetersMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MetersClient) GetMeter(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getMeterMethod, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MetersClient) RefreshMeter(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, refreshMeterMethod, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
