package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

var (
	// client is the VTEP service client, initialized in PersistentPreRunE.
	client vxlanapi.VtepServiceClient

	// outputFormat controls the output format for all commands.
	outputFormat string

	// serverAddr is the daemon control address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for govxlanctl.
var rootCmd = &cobra.Command{
	Use:   "govxlanctl",
	Short: "CLI client for the govxlan VTEP daemon",
	Long:  "govxlanctl talks to govxland over ConnectRPC to manage VXLAN instances and their forwarding tables.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = vxlanapi.NewVtepServiceClient(
			http.DefaultClient,
			"http://"+serverAddr,
		)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:50052",
		"govxland control address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatTable,
		"output format: table, json, yaml")

	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(fdbCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
