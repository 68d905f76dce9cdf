package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"instance list", "List all VXLAN instances"},
	{"instance show <vni>", "Show details of a VXLAN instance"},
	{"instance create <vni> [--group]", "Create a VXLAN instance"},
	{"instance destroy <vni>", "Destroy a VXLAN instance"},
	{"fdb list <vni>", "List learned MAC addresses"},
	{"fdb flush <vni>", "Flush learned MAC addresses"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive govxlanctl shell",
		Long:  "Launches a simple REPL that accepts govxlanctl subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runShell(os.Stdin, os.Stdout, func(args []string) error {
				rootCmd.SetArgs(args)
				return rootCmd.Execute()
			})
		},
	}
}

// runShell reads commands line by line from in and hands each to exec.
// Command errors are printed and the loop continues.
func runShell(in io.Reader, out io.Writer, exec func(args []string) error) error {
	printShellBanner(out)
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "govxlanctl> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "exit" || line == "quit":
			return nil
		case line == "help" || line == "?":
			printShellHelp(out)
		case line != "":
			if err := exec(strings.Fields(line)); err != nil {
				fmt.Fprintln(out, "Error:", err)
			}
		}

		fmt.Fprint(out, "govxlanctl> ")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	return nil
}

// printShellBanner prints a welcome message when the shell starts.
func printShellBanner(out io.Writer) {
	fmt.Fprintln(out, "govxlan interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Fprintln(out)
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out)

	for _, cmd := range shellCommands {
		fmt.Fprintf(out, "  %-34s %s\n", cmd.name, cmd.desc)
	}

	fmt.Fprintln(out)
}
