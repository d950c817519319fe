package daemon

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check asks the daemon listening on socketPath for the health of each
// service, the daemon itself first.
func Check(ctx context.Context, socketPath string) (map[string]healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	out := make(map[string]healthpb.HealthCheckResponse_ServingStatus)
	for _, svc := range []string{"", ServiceReconcile, ServiceWhatsApp, ServiceAMQP} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", svc, err)
		}
		out[svc] = resp.GetStatus()
	}
	return out, nil
}
