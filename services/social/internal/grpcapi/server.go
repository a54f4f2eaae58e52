// Package grpcapi exposes the social service over gRPC: the comment API,
// health and reflection, with application errors mapped to statuses.
package grpcapi

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewServer builds a gRPC server with the error interceptor, the health
// service and reflection registered. comments may be nil.
func NewServer(hs *health.Server, comments CommentsServer, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryErrorInterceptor(log)))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	if comments != nil {
		RegisterCommentsServer(srv, comments)
	}
	reflection.Register(srv)
	return srv
}
