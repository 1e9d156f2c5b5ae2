package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	grpcx "github.com/developeragencia/conselhoscursor-sub003/internal/transport/grpc"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// stats: снимок состояния работающего relay через RelayAdmin.
func newStatsCmd() *cobra.Command {
	var (
		addr    string
		room    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Query a running relay over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if tok := os.Getenv("RELAY_INTERNAL_TOKEN"); tok != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "x-internal-token", tok)
			}

			client := grpcx.NewClient(conn)
			var out any
			if room != "" {
				res, err := client.Room(ctx, room)
				if err != nil {
					return err
				}
				out = res.AsMap()
			} else {
				res, err := client.Stats(ctx)
				if err != nil {
					return err
				}
				out = res.AsMap()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "relay gRPC address")
	cmd.Flags().StringVar(&room, "room", "", "consultation id; empty prints hub stats")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
