package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/health"
)

func init() {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the generation backend and classifier",
		Long:  "Probes every configured target once. Exits 1 when any target is down.",
		Run:   runHealth,
	}

	RootCmd.AddCommand(cmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	results := health.NewProber(cfg.Health, health.WithLogger(logger)).Check(cmd.Context())

	if textFormat() {
		for _, r := range results {
			state := "up"
			if !r.Up {
				state = "DOWN " + r.Err
			}
			fmt.Printf("%-12s %-32s %s (%s)\n", r.Name, r.URL, state, r.Latency.Round(time.Millisecond))
		}
	} else {
		printJSON(results)
	}
	if !health.AllUp(results) {
		_ = logger.Sync()
		os.Exit(1)
	}
}
