package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// Sentinel errors for CLI validation.
var (
	errKindRequired = errors.New("--kind flag is required")
)

func vifCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vif",
		Short: "Manage host interfaces (vifs)",
	}

	cmd.AddCommand(vifListCmd())
	cmd.AddCommand(vifShowCmd())
	cmd.AddCommand(vifAddCmd())
	cmd.AddCommand(vifDeleteCmd())

	return cmd
}

// --- vif list ---

func vifListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured vifs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := client.ListVifs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list vifs: %w", err)
			}

			out, err := formatStruct(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format vifs: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- vif show ---

func vifShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <idx>",
		Short: "Show a single vif's declarative fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIdx(args[0])
			if err != nil {
				return err
			}

			resp, err := client.GetVif(cmd.Context(), idx)
			if err != nil {
				return fmt.Errorf("get vif: %w", err)
			}

			out, err := formatStruct(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format vif: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- vif add ---

func vifAddCmd() *cobra.Command {
	var (
		idx     int32
		kind    string
		pci     string
		mac     string
		pmdPort int32
		mtu     int32
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a new vif",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind == "" {
				return errKindRequired
			}

			fields := map[string]any{
				"idx":      float64(idx),
				"kind":     kind,
				"os_index": float64(pmdPort),
				"mtu":      float64(mtu),
			}
			if pci != "" {
				fields["pci"] = pci
			}
			if mac != "" {
				fields["mac"] = mac
			}

			resp, err := client.AddVif(cmd.Context(), fields)
			if err != nil {
				return fmt.Errorf("add vif: %w", err)
			}

			out, err := formatStruct(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format vif: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int32Var(&idx, "idx", 0, "dense numeric vif index (required)")
	flags.StringVar(&kind, "kind", "", "vif kind: fabric, virtual, vhost, agent, monitoring (required)")
	flags.StringVar(&pci, "pci", "", "PCI DBDF address (fabric vifs not using --pmd-port)")
	flags.StringVar(&mac, "mac", "", "MAC address")
	flags.Int32Var(&pmdPort, "pmd-port", 0, "PMD port id (fabric vifs addressed by port rather than PCI)")
	flags.Int32Var(&mtu, "mtu", 1500, "MTU in bytes")

	return cmd
}

// --- vif delete ---

func vifDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <idx>",
		Short: "Delete a vif by index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIdx(args[0])
			if err != nil {
				return err
			}

			if err := client.DeleteVif(cmd.Context(), idx); err != nil {
				return fmt.Errorf("delete vif: %w", err)
			}

			fmt.Printf("Vif %d deleted.\n", idx)

			return nil
		},
	}
}

func parseIdx(s string) (int32, error) {
	idx, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse idx %q: %w", s, err)
	}

	return int32(idx), nil
}
