package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"autotrader/internal/api"
)

var grpcAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the gRPC health service; exits non-zero while trading is halted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", grpcAddr, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.TradingService})
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("trading is not active")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&grpcAddr, "grpc", "localhost:9090", "gRPC health address")
}
