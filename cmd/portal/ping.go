package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/portal-project/portal/internal/cli"
	"github.com/portal-project/portal/internal/protocol"
)

func pingCmd() *cobra.Command {
	var (
		version int32
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping <host:port>",
		Short: "Query a server's status like a game client would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := cli.Ping(ctx, args[0], version)
			if err != nil {
				return err
			}
			cli.RenderStatus(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().Int32VarP(&version, "protocol", "p", protocol.MaxProtocol, "Protocol version to announce")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Overall timeout")
	return cmd
}
