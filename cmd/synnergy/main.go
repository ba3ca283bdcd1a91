package main

import (
	"os"

	"github.com/spf13/cobra"

	"swarmnode/cmd/cli"
)

func main() {
	rootCmd := &cobra.Command{Use: "swarmnode", Short: "Swarm-style peer-lifecycle engine"}
	cli.RegisterNetwork(rootCmd)
	cli.RegisterPeer(rootCmd)
	cli.RegisterAccounting(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
