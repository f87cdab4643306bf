package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [text]",
		Short: "Classify and store a user utterance",
		Long: "Runs the admission filter on the text and stores it when it is important enough.\n" +
			"Text can be a positional arg or piped via stdin.",
		Run: runRemember,
	}

	cmd.Flags().StringP("session", "s", "cli", "Session id to file the memory under")
	cmd.Flags().Bool("force", false, "Store even when the admission filter rejects the text")

	RootCmd.AddCommand(cmd)
}

type admitter interface {
	ShouldAdmit(ctx context.Context, text string) (bool, model.Classification)
}

type rememberResult struct {
	Admitted       bool                 `json:"admitted"`
	Classification model.Classification `json:"classification"`
	ParentID       string               `json:"parent_id,omitempty"`
}

// remember stores text when the admission filter accepts it, or always
// when force is set.
func remember(ctx context.Context, adm admitter, in *store.Ingester, text, sessionID string, force bool) (rememberResult, error) {
	admitted, cls := adm.ShouldAdmit(ctx, text)
	out := rememberResult{Admitted: admitted, Classification: cls}
	if !admitted && !force {
		return out, nil
	}
	id, err := in.StoreUtterance(ctx, store.UtteranceParams{
		Text:           text,
		Speaker:        model.SpeakerUser,
		SessionID:      sessionID,
		Classification: cls,
	})
	if err != nil {
		return out, err
	}
	out.ParentID = id
	return out, nil
}

func runRemember(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	force, _ := cmd.Flags().GetBool("force")

	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			text = string(b)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		exitErr("remember", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	a, err := newApp()
	if err != nil {
		exitErr("start", err)
	}
	defer a.Close()

	out, err := remember(cmd.Context(), a.admitter, a.ingester, text, sessionID, force)
	if err != nil {
		exitErr("store", err)
	}
	cls := out.Classification

	if textFormat() {
		if out.ParentID == "" {
			fmt.Printf("not stored (importance %d, topic %s)\n", cls.Importance, cls.Topic)
			return
		}
		fmt.Printf("stored %s (importance %d, topic %s)\n", out.ParentID, cls.Importance, cls.Topic)
		return
	}
	printJSON(out)
}
