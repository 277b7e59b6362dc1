package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/tailnode/internal/health"
	"github.com/rmacdonaldsmith/tailnode/pkg/statusclient"
)

func newStatusCommand() *cobra.Command {
	var (
		serverURL  string
		token      string
		healthAddr string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running node's status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := statusclient.NewClient(statusclient.Config{
				ServerURL: serverURL,
				Token:     token,
				Timeout:   timeout,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			h, err := client.GetHealth(ctx)
			if err != nil {
				return fmt.Errorf("failed to check health: %w", err)
			}
			if h.Healthy {
				printf(out, "✅ Node is up\n")
			} else {
				printf(out, "❌ Node is %s\n", h.State)
			}

			if healthAddr != "" {
				resp, err := health.Probe(ctx, healthAddr, health.Service)
				if err != nil {
					return err
				}
				if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
					printf(out, "✅ Listener is serving\n")
				} else {
					printf(out, "❌ Listener is %s\n", resp.GetStatus())
				}
			}

			if token == "" {
				return nil
			}
			st, err := client.GetStatus(ctx)
			if err != nil {
				return err
			}
			printf(out, "Hostname: %s\n", st.Hostname)
			printf(out, "Listening: %s %s\n", st.Network, st.Listen)
			printf(out, "Mode: %s\n", st.Mode)
			printf(out, "Connections: %d accepted, %d active\n", st.Accepted, st.Active)
			printf(out, "Up since: %s\n", st.StartedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "Status API URL")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token from 'tailnode token'")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Also probe the gRPC health service at this address")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}
