package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/aadnode/internal/core/server"
	"github.com/solatis/aadnode/internal/events"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the agent health service",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("addr", "127.0.0.1:50052", "health service address")
	statusCmd.Flags().Duration("timeout", 5*time.Second, "request timeout")
}

// statusServices are the names the app manager reports, overall first.
func statusServices() []string {
	return []string{
		server.OverallService,
		events.NetworkManager.String(),
		events.TempDrv.String(),
		events.OTA.String(),
		events.MQTTApp.String(),
		events.DevManager.String(),
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	marshal := protojson.MarshalOptions{EmitUnpopulated: true}
	out := cmd.OutOrStdout()
	for _, name := range statusServices() {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: name})
		cancel()
		label := name
		if label == "" {
			label = "agent"
		}
		if err != nil {
			fmt.Fprintf(out, "%-16s %v\n", label, err)
			continue
		}
		b, err := marshal.Marshal(resp)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-16s %s\n", label, b)
	}
	return nil
}
