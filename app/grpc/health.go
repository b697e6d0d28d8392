package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer reports the standard grpc.health.v1 status for the whole
// server and for the named service.
type HealthServer struct {
	server      *health.Server
	serviceName string
}

func NewHealthServer(serviceName string) *HealthServer {
	return &HealthServer{
		server:      health.NewServer(),
		serviceName: serviceName,
	}
}

func (h *HealthServer) Register(grpcSrv *grpc.Server) {
	healthpb.RegisterHealthServer(grpcSrv, h.server)
}

func (h *HealthServer) SetServing(serving bool) {
	state := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		state = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", state)
	h.server.SetServingStatus(h.serviceName, state)
}

// Shutdown flips every service to NOT_SERVING so load balancers drain the
// instance before the listener closes.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}
