// Portal is a game-client protocol proxy. It answers server list pings,
// logs players in, and hands them to a backend with a Transfer packet.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
  ____            _        _
 |  _ \ ___  _ __| |_ __ _| |
 | |_) / _ \| '__| __/ _' | |
 |  __/ (_) | |  | || (_| | |
 |_|   \___/|_|   \__\__,_|_|  %s
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal",
		Short: "Login and transfer proxy for game clients",
		Long: `Portal accepts game clients, answers server list pings, performs the
login and configuration handshake, and transfers ready players to a backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		pingCmd(),
		connectionsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
