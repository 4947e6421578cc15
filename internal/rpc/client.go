package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"projectdesk.io/internal/audit"
	"projectdesk.io/internal/auth"
)

const requestIDHeader = "x-request-id"

// Client wraps the gRPC connection to the auth service.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

var _ Backend = (*Client)(nil)

// Dial creates a new client with sensible defaults (insecure transport).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Login(ctx context.Context, req auth.LoginRequest) (*auth.TokenResponse, error) {
	var out auth.TokenResponse
	if err := c.invoke(ctx, methodLogin, &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req auth.RegisterRequest) (*auth.TokenResponse, error) {
	var out auth.TokenResponse
	if err := c.invoke(ctx, methodRegister, &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateToken returns auth.ErrInvalidToken when the service reports the
// token as invalid.
func (c *Client) ValidateToken(ctx context.Context, token string) (*auth.Payload, error) {
	var out ValidateTokenResponse
	if err := c.invoke(ctx, methodValidateToken, &TokenRequest{Token: token}, &out); err != nil {
		return nil, err
	}
	if !out.Valid || out.Payload == nil {
		return nil, auth.ErrInvalidToken
	}
	return out.Payload, nil
}

func (c *Client) Logout(ctx context.Context, token string) (auth.LogoutResult, error) {
	var out auth.LogoutResult
	if err := c.invoke(ctx, methodLogout, &TokenRequest{Token: token}, &out); err != nil {
		return auth.LogoutResult{}, err
	}
	return out, nil
}

// Ready asks the standard health service whether AuthService is serving.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return mapAuthError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: status %s", ErrUnavailable, resp.GetStatus())
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if c == nil || c.conn == nil {
		return errors.New("rpc: client is not connected")
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDHeader, rid)
	}
	return mapAuthError(c.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(codecName)))
}
