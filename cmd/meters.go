package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	server "github.com/tejusbharadwaj/hydrolink/internal/grpc"
)

func newMetersCmd() *cobra.Command {
	var (
		addr    string
		refresh bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "meters [id]",
		Short: "Query the meters of a running serve",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if refresh && len(args) == 0 {
				return fmt.Errorf("--refresh needs a meter id")
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := server.NewMetersClient(conn)
			var out proto.Message
			switch {
			case len(args) == 0:
				out, err = client.ListMeters(ctx)
			case refresh:
				out, err = client.RefreshMeter(ctx, args[0])
			default:
				out, err = client.GetMeter(ctx, args[0])
			}
			if err != nil {
				return err
			}

			data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(out)
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "address of the gRPC server")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "run a refresh cycle before reading the meter")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "request timeout")
	return cmd
}
