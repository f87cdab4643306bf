package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if !textFormat() {
		printJSON(stats)
		return
	}
	fmt.Printf("%s (%s)\n", stats.DBPath, humanize.Bytes(uint64(stats.DBSizeBytes)))
	fmt.Printf("parents %s, chunks %s, orphans %d\n",
		humanize.Comma(int64(stats.Parents)), humanize.Comma(int64(stats.Chunks)), stats.Orphans)
	for _, t := range stats.Topics {
		fmt.Printf("  %-20s %6d chunks  avg importance %.1f\n", t.Topic, t.Chunks, t.AvgImportance)
	}
	for _, ss := range stats.Sessions {
		fmt.Printf("  %-36s %6d parents %6d chunks\n", ss.SessionID, ss.Parents, ss.Chunks)
	}
}
