package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest memories of a session",
		Run:   runRecent,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().IntP("limit", "l", 10, "Max results")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runRecent(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	chunks, err := s.RecentChunks(cmd.Context(), sessionID, limit)
	if err != nil {
		exitErr("recent", err)
	}

	if textFormat() {
		printChunks(chunks)
		return
	}
	if len(chunks) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(chunks)
}
