package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/prompt"
	"github.com/rcliao/agent-recall/internal/retrieval"
	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show the memories a turn would recall",
		Long: "Runs hybrid retrieval for the query exactly as a conversation turn does and prints\n" +
			"each result with its scoring terms.",
		Args: cobra.MinimumNArgs(1),
		Run:  runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default: scoring.k)")
	cmd.Flags().Bool("all", false, "Show every retrieved memory, not only the ones the prompt would include")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")
	query := strings.Join(args, " ")

	a, err := newApp()
	if err != nil {
		exitErr("start", err)
	}
	defer a.Close()

	results, err := a.retriever.Retrieve(cmd.Context(), retrieval.Query{
		Text:    query,
		K:       limit,
		History: []model.Turn{{Role: model.RoleUser, Content: query}},
	})
	if err != nil {
		exitErr("search", err)
	}
	if budget := prompt.New(cfg.Prompt).MemoryBudget(query); !all && len(results) > budget {
		results = results[:budget]
	}

	if textFormat() {
		printScored(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}

func printScored(results []model.ScoredChunk) {
	now := time.Now()
	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s\n", i+1, r.HybridScore, r.Content)
		fmt.Printf("   dist=%.3f kw=%.3f tag=%+.2f recency=%.3f  %s/%d  %s\n",
			r.SemanticDistance, r.KeywordRank, r.TagAdjustment, r.RecencyTerm,
			r.Topic, r.Importance, humanize.RelTime(r.CreatedAt, now, "ago", "from now"))
	}
}

func printChunks(chunks []model.MemoryChunk) {
	now := time.Now()
	for _, c := range chunks {
		fmt.Printf("%s  %-14s %d  %s  %s\n", c.ID, c.Topic, c.Importance,
			humanize.RelTime(c.CreatedAt, now, "ago", "from now"), c.Content)
	}
}

func printPrune(kind string, res store.PruneResult) {
	if textFormat() {
		fmt.Printf("%s: removed %s parents, %s chunks\n", kind,
			humanize.Comma(res.Parents), humanize.Comma(res.Chunks))
		return
	}
	printJSON(struct {
		Kind string `json:"kind"`
		store.PruneResult
	}{kind, res})
}
