package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant interactively",
		Long: "Reads one utterance per line from stdin and streams the reply.\n" +
			"Commands: /stats prints recent generation stats, /session prints the session id, /quit exits.",
		Run: runChat,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (default: a new random id)")
	cmd.Flags().String("observation", "", "Scene description passed on visual questions")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	observation, _ := cmd.Flags().GetString("observation")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a, err := newApp()
	if err != nil {
		exitErr("start", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Fprintf(os.Stderr, "session %s\n", sessionID)
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/session":
			fmt.Println(sessionID)
			continue
		case "/stats":
			printJSON(a.engine.Stats())
			continue
		}

		reply, err := a.engine.Handle(ctx, engine.Input{
			SessionID:   sessionID,
			Text:        line,
			Observation: observation,
			OnToken:     func(s string) { fmt.Print(s) },
		})
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Println()
			return
		case err != nil:
			exitErr("turn", err)
		case reply.Fallback:
			fmt.Println(reply.Text)
		default:
			fmt.Println()
		}
	}
	if err := in.Err(); err != nil {
		exitErr("read stdin", err)
	}
}
