package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var (
		core   int32
		watch  bool
		period time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats <idx>",
		Short: "Show per-vif queue and port statistics",
		Long:  "Queries StatsUpdate for a vif. With --watch, polls at --interval until interrupted (Ctrl+C).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIdx(args[0])
			if err != nil {
				return err
			}

			if !watch {
				resp, err := client.StatsUpdate(cmd.Context(), idx, core)
				if err != nil {
					return fmt.Errorf("stats update: %w", err)
				}

				out, err := formatStruct(resp, outputFormat)
				if err != nil {
					return fmt.Errorf("format stats: %w", err)
				}

				fmt.Print(out)

				return nil
			}

			return watchStats(cmd.Context(), idx, core, period)
		},
	}

	flags := cmd.Flags()
	flags.Int32Var(&core, "core", -1, "lcore id to scope stats to (-1 for all cores)")
	flags.BoolVar(&watch, "watch", false, "poll continuously until interrupted")
	flags.DurationVar(&period, "interval", time.Second, "polling interval when --watch is set")

	return cmd
}

// watchStats polls StatsUpdate on a ticker until ctx is canceled,
// mirroring gobfdctl's monitor command but as client-side polling rather
// than a server streaming RPC (the hostif server exposes none; see
// internal/server.ServiceName's procedure list).
func watchStats(ctx context.Context, idx, core int32, period time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		resp, err := client.StatsUpdate(ctx, idx, core)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("stats update: %w", err)
		}

		out, err := formatStruct(resp, outputFormat)
		if err != nil {
			return fmt.Errorf("format stats: %w", err)
		}

		fmt.Println(out)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
