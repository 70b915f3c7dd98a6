package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive vifctl shell",
		Long:  "Launches a readline-backed shell over the same commands as the vifctl CLI.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("vifctl")

			menu := app.ActiveMenu()
			menu.SetCommands(func() *cobra.Command {
				return shellRootCmd()
			})
			menu.Prompt().Primary = func() string { return "vifctl> " }

			fmt.Println("vifctl interactive shell. Type 'help' for available commands, 'exit' to quit.")

			return app.Start()
		},
	}
}

// shellRootCmd rebuilds the command tree without the shell subcommand
// itself, since nesting a shell inside the shell makes no sense, and
// without PersistentPreRunE's address re-parsing, since the client is
// already connected by the time the shell starts.
func shellRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vifctl",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(vifCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(versionCmd())

	return root
}
