package commands

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

func fdbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fdb",
		Short: "Inspect and flush forwarding tables",
	}

	cmd.AddCommand(fdbListCmd())
	cmd.AddCommand(fdbFlushCmd())

	return cmd
}

func fdbListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <vni>",
		Short: "List learned MAC addresses of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			vni, err := parseVNIArg(args[0])
			if err != nil {
				return err
			}

			resp, err := client.ListFDB(context.Background(),
				connect.NewRequest(&vxlanapi.ListFDBRequest{VNI: vni}))
			if err != nil {
				return fmt.Errorf("list fdb: %w", err)
			}

			out, err := formatFDB(resp.Msg.Entries, outputFormat)
			if err != nil {
				return fmt.Errorf("format fdb: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func fdbFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <vni>",
		Short: "Remove all learned MAC addresses of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			vni, err := parseVNIArg(args[0])
			if err != nil {
				return err
			}

			resp, err := client.FlushFDB(context.Background(),
				connect.NewRequest(&vxlanapi.FlushFDBRequest{VNI: vni}))
			if err != nil {
				return fmt.Errorf("flush fdb: %w", err)
			}

			fmt.Printf("Flushed %d entries from VNI %d.\n", resp.Msg.Flushed, vni)

			return nil
		},
	}
}
