package grpcapi

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/example/dojo-academy/internal/platform/apperr"
)

// ErrorDomain is the ErrorInfo domain of every classified failure.
const ErrorDomain = "social"

// StatusFromError converts an application error into a gRPC status carrying
// ErrorInfo and, for validation failures, a BadRequest field violation.
// Unclassified errors become a bare Internal status.
func StatusFromError(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	ae, ok := apperr.As(err)
	if !ok {
		return status.New(codes.Internal, "internal error")
	}

	var code codes.Code
	switch ae.Kind {
	case apperr.KindValidation:
		code = codes.InvalidArgument
	case apperr.KindNotFound:
		code = codes.NotFound
	case apperr.KindInvalidReference:
		code = codes.FailedPrecondition
	case apperr.KindConflict:
		code = codes.AlreadyExists
	case apperr.KindUnauthorized:
		code = codes.Unauthenticated
	case apperr.KindForbidden:
		code = codes.PermissionDenied
	default:
		return status.New(codes.Internal, "internal error")
	}

	st := status.New(code, ae.Message)
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{Reason: ae.Code, Domain: ErrorDomain}}
	if ae.Kind == apperr.KindValidation && ae.Field != "" {
		details = append(details, &errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: ae.Field, Description: ae.Message}},
		})
	}
	if withDetails, err := st.WithDetails(details...); err == nil {
		return withDetails
	}
	return st
}

// UnaryErrorInterceptor logs unclassified failures and maps every error
// returned by a handler through StatusFromError.
func UnaryErrorInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		st := StatusFromError(err)
		if st.Code() == codes.Internal {
			log.Error("grpc request failed", zap.String("method", info.FullMethod), zap.Error(err))
		}
		return nil, st.Err()
	}
}
