// Command vifctl is the CLI client for vrouterd, the host-interface
// datapath daemon.
package main

import "github.com/ocvrouter/hostif/cmd/vifctl/commands"

func main() {
	commands.Execute()
}
