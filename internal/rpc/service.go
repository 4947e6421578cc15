// Package rpc exposes the auth core as a gRPC service and provides the client
// the gateway uses to reach it.
package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"

	"projectdesk.io/internal/auth"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "projectdesk.auth.v1.AuthService"

const (
	methodLogin         = "/" + ServiceName + "/Login"
	methodRegister      = "/" + ServiceName + "/Register"
	methodValidateToken = "/" + ServiceName + "/ValidateToken"
	methodLogout        = "/" + ServiceName + "/Logout"
)

// Backend is the set of operations served over the wire. *auth.Service and
// *Client both implement it.
type Backend interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.TokenResponse, error)
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.TokenResponse, error)
	ValidateToken(ctx context.Context, token string) (*auth.Payload, error)
	Logout(ctx context.Context, token string) (auth.LogoutResult, error)
}

// TokenRequest carries a bearer token for ValidateToken and Logout.
type TokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse reports Valid=false for any rejected token.
type ValidateTokenResponse struct {
	Valid   bool          `json:"valid"`
	Payload *auth.Payload `json:"payload,omitempty"`
}

type authServiceServer interface {
	Login(context.Context, *auth.LoginRequest) (*auth.TokenResponse, error)
	Register(context.Context, *auth.RegisterRequest) (*auth.TokenResponse, error)
	ValidateToken(context.Context, *TokenRequest) (*ValidateTokenResponse, error)
	Logout(context.Context, *TokenRequest) (*auth.LogoutResult, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*authServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unary(methodLogin, authServiceServer.Login)},
		{MethodName: "Register", Handler: unary(methodRegister, authServiceServer.Register)},
		{MethodName: "ValidateToken", Handler: unary(methodValidateToken, authServiceServer.ValidateToken)},
		{MethodName: "Logout", Handler: unary(methodLogout, authServiceServer.Logout)},
	},
	Metadata: "projectdesk/auth/v1/auth.json",
}

func unary[Req, Resp any](method string, call func(authServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(authServiceServer), ctx, req.(*Req))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
	}
}

// Server adapts a Backend to the gRPC service.
type Server struct {
	backend Backend
}

var _ authServiceServer = (*Server)(nil)

// NewServer wraps backend.
func NewServer(backend Backend) *Server { return &Server{backend: backend} }

// RegisterServer attaches an AuthService backed by backend to s.
func RegisterServer(s grpc.ServiceRegistrar, backend Backend) {
	s.RegisterService(&serviceDesc, NewServer(backend))
}

func (srv *Server) Login(ctx context.Context, req *auth.LoginRequest) (*auth.TokenResponse, error) {
	resp, err := srv.backend.Login(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (srv *Server) Register(ctx context.Context, req *auth.RegisterRequest) (*auth.TokenResponse, error) {
	resp, err := srv.backend.Register(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (srv *Server) ValidateToken(ctx context.Context, req *TokenRequest) (*ValidateTokenResponse, error) {
	payload, err := srv.backend.ValidateToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return &ValidateTokenResponse{Valid: false}, nil
		}
		return nil, toStatus(err)
	}
	return &ValidateTokenResponse{Valid: true, Payload: payload}, nil
}

func (srv *Server) Logout(ctx context.Context, req *TokenRequest) (*auth.LogoutResult, error) {
	res, err := srv.backend.Logout(ctx, req.Token)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}
