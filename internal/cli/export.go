package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every parent with its chunks and vectors. Filter by session with -s.",
		Run:   runExport,
	}

	cmd.Flags().StringP("session", "s", "", "Filter by session id")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	items, err := s.ExportAll(cmd.Context(), sessionID)
	if err != nil {
		exitErr("export", err)
	}

	printJSON(items)
}
