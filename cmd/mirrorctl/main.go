// Command mirrorctl talks to a mirror-engine gateway: it submits
// transactions, runs raw contract queries and reads the REST views.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		gateway string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:           "mirrorctl",
		Short:         "Command line client for the mirror-engine gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&gateway, "gateway", envOr("MIRROR_GATEWAY", "http://localhost:8080"), "gateway base URL")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	client := func() *Client { return NewClient(gateway, timeout) }
	cmd.AddCommand(
		newTxCmd(client),
		newQueryCmd(client),
		newPositionCmd(client),
		newPositionsCmd(client),
		newPriceCmd(client),
		newBalanceCmd(client),
		newBlockCmd(client),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
