package httpapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServiceName is what orchestrators query on the health endpoint.
const GRPCServiceName = "enrolhub.api"

// NewGRPCServer returns a gRPC server exposing the standard health service,
// which load balancers and orchestrators probe for liveness.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(GRPCServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return srv, healthServer
}
