package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthStatusTransitions(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := NewServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	check := func() grpc_health_v1.HealthCheckResponse_ServingStatus {
		reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer reqCancel()
		resp, err := client.Check(reqCtx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())

	s.SetServing(true)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check())

	s.SetServing(false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())
}
