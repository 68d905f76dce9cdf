// govxlanctl is the command line client for the govxland control API.
package main

import "github.com/dantte-lp/govxlan/cmd/govxlanctl/commands"

func main() {
	commands.Execute()
}
