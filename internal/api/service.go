package api

import (
	"context"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "magiclink.v1.MagicLinkService"

	RequestMagicLinkMethod = "/" + ServiceName + "/RequestMagicLink"
	VerifyMagicLinkMethod  = "/" + ServiceName + "/VerifyMagicLink"
	PingMethod             = "/" + ServiceName + "/Ping"
	MeMethod               = "/" + ServiceName + "/Me"
	RefreshTokenMethod     = "/" + ServiceName + "/RefreshToken"
)

// MagicLinkServiceServer is implemented by the server.
type MagicLinkServiceServer interface {
	RequestMagicLink(context.Context, *RequestMagicLinkRequest) (*RequestMagicLinkResponse, error)
	VerifyMagicLink(context.Context, *VerifyMagicLinkRequest) (*VerifyMagicLinkResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Me(context.Context, *MeRequest) (*MeResponse, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error)
}

func RegisterMagicLinkServiceServer(s grpc.ServiceRegistrar, srv MagicLinkServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodDesc.
func unaryHandler[Req, Resp any](method string, call func(MagicLinkServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MagicLinkServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MagicLinkServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MagicLinkServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequestMagicLink",
			Handler:    unaryHandler(RequestMagicLinkMethod, MagicLinkServiceServer.RequestMagicLink),
		},
		{
			MethodName: "VerifyMagicLink",
			Handler:    unaryHandler(VerifyMagicLinkMethod, MagicLinkServiceServer.VerifyMagicLink),
		},
		{
			MethodName: "Ping",
			Handler:    unaryHandler(PingMethod, MagicLinkServiceServer.Ping),
		},
		{
			MethodName: "Me",
			Handler:    unaryHandler(MeMethod, MagicLinkServiceServer.Me),
		},
		{
			MethodName: "RefreshToken",
			Handler:    unaryHandler(RefreshTokenMethod, MagicLinkServiceServer.RefreshToken),
		},
	},
	Metadata: "magiclink/v1/service",
}

// MagicLinkServiceClient calls the service over any client connection.
type MagicLinkServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMagicLinkServiceClient(cc grpc.ClientConnInterface) *MagicLinkServiceClient {
	return &MagicLinkServiceClient{cc: cc}
}

func (c *MagicLinkServiceClient) RequestMagicLink(ctx context.Context, in *RequestMagicLinkRequest, opts ...grpc.CallOption) (*RequestMagicLinkResponse, error) {
	out := new(RequestMagicLinkResponse)
	if err := c.invoke(ctx, RequestMagicLinkMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MagicLinkServiceClient) VerifyMagicLink(ctx context.Context, in *VerifyMagicLinkRequest, opts ...grpc.CallOption) (*VerifyMagicLinkResponse, error) {
	out := new(VerifyMagicLinkResponse)
	if err := c.invoke(ctx, VerifyMagicLinkMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MagicLinkServiceClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	out := new(PingResponse)
	if err := c.invoke(ctx, PingMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Me requires a bearer token on ctx (see WithBearer).
func (c *MagicLinkServiceClient) Me(ctx context.Context, in *MeRequest, opts ...grpc.CallOption) (*MeResponse, error) {
	out := new(MeResponse)
	if err := c.invoke(ctx, MeMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// RefreshToken requires a bearer token on ctx (see WithBearer).
func (c *MagicLinkServiceClient) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error) {
	out := new(RefreshTokenResponse)
	if err := c.invoke(ctx, RefreshTokenMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MagicLinkServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

// Reason extracts the ErrorInfo reason carried by a status error, or "".
func Reason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info.GetReason()
		}
	}
	return ""
}
