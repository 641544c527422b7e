package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// NewServer builds a gRPC server with the inventory service, health and reflection registered.
// The returned health server starts SERVING for the inventory service.
func NewServer(inventory InventoryServer, log *zap.Logger) (*gogrpc.Server, *health.Server) {
	if log == nil {
		log = zap.NewNop()
	}
	srv := gogrpc.NewServer(
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(loggingInterceptor(log)),
	)

	RegisterInventoryServer(srv, inventory)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(InventoryServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	reflection.Register(srv)
	return srv, healthSrv
}

func loggingInterceptor(log *zap.Logger) gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Warn("grpc_request", append(fields, zap.Error(err))...)
		} else {
			log.Debug("grpc_request", fields...)
		}
		return resp, err
	}
}
