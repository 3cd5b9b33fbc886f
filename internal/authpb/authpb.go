// ABOUTME: gRPC contract for auth_service.AuthService, mirroring proto/auth_service.proto
// ABOUTME: Builds the protobuf descriptors at init and carries messages as dynamicpb values

package authpb

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "auth_service.AuthService"
	// VerifyTokenFullMethod is the method path used on the wire.
	VerifyTokenFullMethod = "/auth_service.AuthService/VerifyToken"
)

// VerifyTokenRequest carries the caller's opaque session token.
type VerifyTokenRequest struct {
	Token string
}

// VerifyTokenResponse is the backend's verdict. Message is diagnostic only.
type VerifyTokenResponse struct {
	Valid   bool
	Message string
}

var (
	fileDesc     protoreflect.FileDescriptor
	requestDesc  protoreflect.MessageDescriptor
	responseDesc protoreflect.MessageDescriptor

	tokenField   protoreflect.FieldDescriptor
	validField   protoreflect.FieldDescriptor
	messageField protoreflect.FieldDescriptor
)

func init() {
	fd, err := protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("authpb: building descriptor: %v", err))
	}
	fileDesc = fd

	requestDesc = fd.Messages().ByName("VerifyTokenRequest")
	responseDesc = fd.Messages().ByName("VerifyTokenResponse")
	tokenField = requestDesc.Fields().ByName("token")
	validField = responseDesc.Fields().ByName("valid")
	messageField = responseDesc.Fields().ByName("message")
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	field := func(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(number),
			Label:    optional,
			Type:     typ.Enum(),
		}
	}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("auth_service.proto"),
		Package: proto.String("auth_service"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("VerifyTokenRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("token", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				},
			},
			{
				Name: proto.String("VerifyTokenResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("valid", 1, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
					field("message", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("AuthService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("VerifyToken"),
						InputType:  proto.String(".auth_service.VerifyTokenRequest"),
						OutputType: proto.String(".auth_service.VerifyTokenResponse"),
					},
				},
			},
		},
	}
}

// File returns the descriptor of auth_service.proto.
func File() protoreflect.FileDescriptor {
	return fileDesc
}

func (r *VerifyTokenRequest) toMessage() *dynamicpb.Message {
	m := dynamicpb.NewMessage(requestDesc)
	if r.Token != "" {
		m.Set(tokenField, protoreflect.ValueOfString(r.Token))
	}
	return m
}

func requestFromMessage(m *dynamicpb.Message) *VerifyTokenRequest {
	return &VerifyTokenRequest{Token: m.Get(tokenField).String()}
}

func (r *VerifyTokenResponse) toMessage() *dynamicpb.Message {
	m := dynamicpb.NewMessage(responseDesc)
	if r.Valid {
		m.Set(validField, protoreflect.ValueOfBool(true))
	}
	if r.Message != "" {
		m.Set(messageField, protoreflect.ValueOfString(r.Message))
	}
	return m
}

func responseFromMessage(m *dynamicpb.Message) *VerifyTokenResponse {
	return &VerifyTokenResponse{
		Valid:   m.Get(validField).Bool(),
		Message: m.Get(messageField).String(),
	}
}

// AuthServiceClient is the client API for AuthService.
type AuthServiceClient interface {
	VerifyToken(ctx context.Context, in *VerifyTokenRequest, opts ...grpc.CallOption) (*VerifyTokenResponse, error)
}

type authServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthServiceClient wraps a connection in the AuthService client API.
func NewAuthServiceClient(cc grpc.ClientConnInterface) AuthServiceClient {
	return &authServiceClient{cc: cc}
}

func (c *authServiceClient) VerifyToken(ctx context.Context, in *VerifyTokenRequest, opts ...grpc.CallOption) (*VerifyTokenResponse, error) {
	out := dynamicpb.NewMessage(responseDesc)
	if err := c.cc.Invoke(ctx, VerifyTokenFullMethod, in.toMessage(), out, opts...); err != nil {
		return nil, err
	}
	return responseFromMessage(out), nil
}

// AuthServiceServer is the server API for AuthService.
type AuthServiceServer interface {
	VerifyToken(context.Context, *VerifyTokenRequest) (*VerifyTokenResponse, error)
}

// RegisterAuthServiceServer registers srv on s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&authServiceDesc, srv)
}

func verifyTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(requestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(AuthServiceServer).VerifyToken(ctx, requestFromMessage(req.(*dynamicpb.Message)))
		if err != nil {
			return nil, err
		}
		return resp.toMessage(), nil
	}

	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: VerifyTokenFullMethod,
	}
	return interceptor(ctx, in, info, handler)
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "VerifyToken",
			Handler:    verifyTokenHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth_service.proto",
}
