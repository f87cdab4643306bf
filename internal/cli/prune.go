package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete memories by rule",
		Long: "Delete memories. Each flag selects one rule; rules run in the order listed below.\n" +
			"  --session-prefix  every parent and chunk of matching sessions\n" +
			"  --test            test and meta chatter, low-value greetings\n" +
			"  --speaker         every utterance of one speaker\n" +
			"  --older-than-days low-importance chunks past an age (see --max-importance, --topic)\n" +
			"  --orphans         parents left without chunks",
		Run: runPrune,
	}

	cmd.Flags().String("session-prefix", "", "Session id prefix, matched literally")
	cmd.Flags().Bool("test", false, "Remove test artifacts")
	cmd.Flags().String("speaker", "", "Speaker to remove: user or assistant")
	cmd.Flags().Int("older-than-days", -1, "Remove chunks older than this many days")
	cmd.Flags().Int("max-importance", 1, "Importance ceiling for --older-than-days")
	cmd.Flags().StringSlice("topic", nil, "Limit --older-than-days to these topics")
	cmd.Flags().Bool("orphans", false, "Remove parents without chunks")

	RootCmd.AddCommand(cmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	prefix, _ := cmd.Flags().GetString("session-prefix")
	test, _ := cmd.Flags().GetBool("test")
	speaker, _ := cmd.Flags().GetString("speaker")
	days, _ := cmd.Flags().GetInt("older-than-days")
	maxImp, _ := cmd.Flags().GetInt("max-importance")
	topics, _ := cmd.Flags().GetStringSlice("topic")
	orphans, _ := cmd.Flags().GetBool("orphans")

	if prefix == "" && !test && speaker == "" && days < 0 && !orphans {
		exitErr("prune", fmt.Errorf("choose at least one rule (see --help)"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()
	ctx := cmd.Context()

	if prefix != "" {
		res, err := s.PruneBySessionPrefix(ctx, prefix)
		if err != nil {
			exitErr("prune session prefix", err)
		}
		printPrune("session_prefix", res)
	}
	if test {
		res, err := s.PruneTestArtifacts(ctx)
		if err != nil {
			exitErr("prune test artifacts", err)
		}
		printPrune("test", res)
	}
	if speaker != "" {
		res, err := s.PruneSpeaker(ctx, model.Speaker(speaker))
		if err != nil {
			exitErr("prune speaker", err)
		}
		printPrune("speaker", res)
	}
	if days >= 0 {
		res, err := s.PruneByAge(ctx, store.AgeParams{MaxAgeDays: days, MaxImportance: maxImp, Topics: topics})
		if err != nil {
			exitErr("prune by age", err)
		}
		printPrune("age", res)
	}
	if orphans {
		n, err := s.DeleteOrphanParents(ctx)
		if err != nil {
			exitErr("prune orphans", err)
		}
		printPrune("orphans", store.PruneResult{Parents: n})
	}
}
