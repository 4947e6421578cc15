package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"projectdesk.io/internal/auth"
)

// ErrUnavailable reports that the auth service could not be reached in time.
var ErrUnavailable = errors.New("auth service unavailable")

// toStatus converts core errors into gRPC status errors. Unknown errors become
// Internal without leaking their text.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, auth.ErrInvalidToken.Error())
	case errors.Is(err, auth.ErrAccountDeactivated):
		return status.Error(codes.PermissionDenied, auth.ErrAccountDeactivated.Error())
	case errors.Is(err, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, auth.ErrConflict.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// mapAuthError converts gRPC status errors back into core sentinel errors.
func mapAuthError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		if st.Message() == auth.ErrInvalidCredentials.Error() {
			return auth.ErrInvalidCredentials
		}
		return auth.ErrInvalidToken
	case codes.PermissionDenied:
		return auth.ErrAccountDeactivated
	case codes.AlreadyExists:
		return auth.ErrConflict
	case codes.InvalidArgument:
		detail := strings.TrimPrefix(st.Message(), auth.ErrInvalidInput.Error())
		detail = strings.TrimPrefix(detail, ": ")
		if detail == "" {
			return auth.ErrInvalidInput
		}
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, detail)
	case codes.DeadlineExceeded, codes.Unavailable, codes.Canceled:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	default:
		return err
	}
}
