package app

import (
	"errors"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcmw "github.com/jkaberg/hass-byd-vehicle/internal/pkg/middleware/grpc"
)

var errNotServing = errors.New("one or more services are not serving")

func newHealthCommand() *cobra.Command {
	var (
		addr     string
		services []string
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the gRPC health of a running bydpoller",
		Long: `Check the gRPC health of a running bydpoller. Without --service only the
overall readiness is checked. Per-vehicle services are named
byd.<vin>.telemetry and byd.<vin>.gps.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpc.NewClient(addr,
				grpc.WithTransportCredentials(insecure.NewCredentials()),
				grpc.WithUnaryInterceptor(grpcmw.UnaryTimeoutInterceptor),
			)
			if err != nil {
				return fmt.Errorf("failed to dial %s: %w", addr, err)
			}
			defer conn.Close()

			if len(services) == 0 {
				services = []string{""}
			}
			client := healthpb.NewHealthClient(conn)
			table := uitable.New()
			table.AddRow("SERVICE", "STATUS")
			var failed bool
			for _, svc := range services {
				resp, err := client.Check(cmd.Context(), &healthpb.HealthCheckRequest{Service: svc})
				status := resp.GetStatus().String()
				if err != nil {
					status = err.Error()
				}
				if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
					failed = true
				}
				name := svc
				if name == "" {
					name = "(overall)"
				}
				table.AddRow(name, status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			if failed {
				return errNotServing
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "grpc-addr", "127.0.0.1:8491", "Address of the bydpoller gRPC server.")
	cmd.Flags().StringSliceVar(&services, "service", nil, "Health service to check; may be repeated.")
	return cmd
}
