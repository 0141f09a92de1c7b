package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/alfredjeanlab/onix/internal/server"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the onix service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if useGRPC, _ := cmd.Flags().GetBool("grpc"); useGRPC {
			addr, _ := cmd.Flags().GetString("grpc-addr")
			return grpcHealth(ctx, cmd, addr)
		}

		status, err := oxClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

// grpcHealth asks the standard gRPC health service for the onix status.
func grpcHealth(ctx context.Context, cmd *cobra.Command, addr string) error {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if authToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds(authToken)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.HealthService})
	if err != nil {
		return fmt.Errorf("checking health: %w", err)
	}
	if jsonOutput {
		data, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", resp.GetStatus())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.GetStatus())
	}
	return nil
}

// bearerCreds attaches the API token to every RPC. The health endpoint is
// usually reached over plaintext inside a cluster, so TLS is not required.
type bearerCreds string

func (c bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(c)}, nil
}

func (bearerCreds) RequireTransportSecurity() bool { return false }

func init() {
	healthCmd.Flags().Bool("grpc", false, "check the gRPC health service instead of HTTP")
	healthCmd.Flags().String("grpc-addr", defaultGRPCAddr(), "gRPC address for --grpc")
}
