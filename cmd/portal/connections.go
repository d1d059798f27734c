package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/portal-project/portal/internal/cli"
	"github.com/portal-project/portal/internal/network"
)

func connectionsCmd() *cobra.Command {
	var (
		apiURL string
		token  string
	)

	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List live connections of a running proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			conns, err := fetchConnections(ctx, apiURL, token)
			if err != nil {
				return err
			}
			cli.RenderConnections(cmd.OutOrStdout(), conns)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "http://127.0.0.1:5000", "Admin API base URL")
	cmd.Flags().StringVar(&token, "token", "", "Admin API bearer token")
	return cmd
}

func fetchConnections(ctx context.Context, apiURL, token string) ([]network.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/api/connections", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned %s", resp.Status)
	}

	var body struct {
		Connections []network.Info `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return body.Connections, nil
}
