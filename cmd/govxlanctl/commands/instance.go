package commands

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/govxlan/internal/vxlan"
	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"inst"},
		Short:   "Manage VXLAN instances",
	}

	cmd.AddCommand(instanceListCmd())
	cmd.AddCommand(instanceShowCmd())
	cmd.AddCommand(instanceCreateCmd())
	cmd.AddCommand(instanceDestroyCmd())

	return cmd
}

// parseVNIArg converts a positional VNI argument, rejecting values outside
// the 24-bit range before anything goes on the wire.
func parseVNIArg(arg string) (uint32, error) {
	vni, err := vxlan.ParseVNI(arg)
	if err != nil {
		return 0, err
	}
	return uint32(vni), nil
}

// --- instance list ---

func instanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all VXLAN instances",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.ListInstances(context.Background(),
				connect.NewRequest(&vxlanapi.ListInstancesRequest{}))
			if err != nil {
				return fmt.Errorf("list instances: %w", err)
			}

			out, err := formatInstances(resp.Msg.Instances, outputFormat)
			if err != nil {
				return fmt.Errorf("format instances: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- instance show ---

func instanceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <vni>",
		Short: "Show details of a VXLAN instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			vni, err := parseVNIArg(args[0])
			if err != nil {
				return err
			}

			resp, err := client.ShowInstance(context.Background(),
				connect.NewRequest(&vxlanapi.ShowInstanceRequest{VNI: vni}))
			if err != nil {
				return fmt.Errorf("show instance: %w", err)
			}

			out, err := formatInstance(resp.Msg.Instance, outputFormat)
			if err != nil {
				return fmt.Errorf("format instance: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- instance create ---

func instanceCreateCmd() *cobra.Command {
	var (
		group    string
		portName string
	)

	cmd := &cobra.Command{
		Use:   "create <vni>",
		Short: "Create a VXLAN instance and its local port",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			vni, err := parseVNIArg(args[0])
			if err != nil {
				return err
			}

			resp, err := client.CreateInstance(context.Background(),
				connect.NewRequest(&vxlanapi.CreateInstanceRequest{
					VNI:      vni,
					Group:    group,
					PortName: portName,
				}))
			if err != nil {
				return fmt.Errorf("create instance: %w", err)
			}

			out, err := formatInstance(resp.Msg.Instance, outputFormat)
			if err != nil {
				return fmt.Errorf("format instance: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&group, "group", "", "multicast group for this VNI (default: daemon group)")
	flags.StringVar(&portName, "port-name", "", "local port name (default: vxlan<VNI>)")

	return cmd
}

// --- instance destroy ---

func instanceDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "destroy <vni>",
		Aliases: []string{"delete"},
		Short:   "Destroy a VXLAN instance",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			vni, err := parseVNIArg(args[0])
			if err != nil {
				return err
			}

			_, err = client.DestroyInstance(context.Background(),
				connect.NewRequest(&vxlanapi.DestroyInstanceRequest{VNI: vni}))
			if err != nil {
				return fmt.Errorf("destroy instance: %w", err)
			}

			fmt.Printf("Instance %d destroyed.\n", vni)

			return nil
		},
	}
}
