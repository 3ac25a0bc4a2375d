package httpapi

import (
	"context"
	"testing"

	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCHealthServing(t *testing.T) {
	srv, healthServer := NewGRPCServer()
	defer srv.Stop()

	for _, service := range []string{"", GRPCServiceName} {
		resp, err := healthServer.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Fatalf("Check(%q): status %v", service, resp.GetStatus())
		}
	}

	healthServer.Shutdown()
	resp, err := healthServer.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: GRPCServiceName})
	if err != nil {
		t.Fatalf("Check after shutdown: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after shutdown: %v", resp.GetStatus())
	}
}
