package health

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const ServiceName = "qoe.controller"

// Server reports controller liveness over the standard gRPC health
// protocol.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
}

func NewServer() *Server {
	s := &Server{
		grpcServer:   grpc.NewServer(),
		healthServer: health.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)
	reflection.Register(s.grpcServer)
	s.healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing flips the status of ServiceName.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, status)
	log.Debugf("Server.SetServing: service=%s, status=%s", ServiceName, status)
}

// Serve blocks on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	log.Infof("Server.Serve: health listening on %s", lis.Addr())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("health server failed: %w", err)
	}
	return nil
}
