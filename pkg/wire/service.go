package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the ingest API.
const (
	ServiceName       = "defecttrend.v1.IngestService"
	RecordBuildMethod = "/" + ServiceName + "/RecordBuild"
)

// IngestServer is implemented by the server-side receiver.
type IngestServer interface {
	RecordBuild(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterIngestServer registers srv with a gRPC server.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ingestServiceDesc, srv)
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordBuild", Handler: recordBuildHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "defecttrend/v1/ingest.proto",
}

func recordBuildHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).RecordBuild(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RecordBuildMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).RecordBuild(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RecordBuild sends rec over conn and returns the server's reply.
func RecordBuild(ctx context.Context, conn grpc.ClientConnInterface, rec BuildRecord, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := rec.ToStruct()
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, RecordBuildMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
