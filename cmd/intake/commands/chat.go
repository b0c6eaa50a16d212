package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/db"
	"waitroom-intake/internal/llm"
)

// NewChatCmd creates the chat command
func NewChatCmd() *cobra.Command {
	var destination string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an intake interview in the terminal",
		Long: `Run an intake interview in the terminal against the configured OpenAI model.

Type your answers at the prompt. "/reset" starts over, "/quit" leaves.
When the interview completes the clinician summary is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireOpenAI(); err != nil {
				return err
			}
			opts, err := cfg.ControllerOptions()
			if err != nil {
				return err
			}
			client, err := llm.NewOpenAIClient(cfg.LLMConfig())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			inbox := db.NewMemoryInbox()
			controller := core.NewController(client, inbox, opts, logger)
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), controller, destination)
		},
	}
	cmd.Flags().StringVarP(&destination, "destination", "d", "terminal", "clinician inbox that receives the intake")
	return cmd
}

// runChat drives one session from in until it completes or in is exhausted.
func runChat(ctx context.Context, in io.Reader, out io.Writer, controller *core.Controller, destination string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess := controller.Start(destination)
	fmt.Fprintf(out, "Assistant: %s\n", core.FirstMessage)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			fmt.Fprintf(out, "Assistant: %s\n", sess.Reset())
			continue
		}

		res, err := controller.Turn(ctx, sess, line)
		if errors.Is(err, core.ErrSessionComplete) {
			fmt.Fprintf(out, "Assistant: %s\n", res.Reply)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Assistant: %s\n", res.Reply)
		if res.Complete {
			printSummary(out, sess.Snapshot())
			return nil
		}
	}
}

func printSummary(out io.Writer, snap core.SessionSnapshot) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "--- Clinician summary ---")
	fmt.Fprintln(out, snap.Summary)
	if len(snap.Profile.RedFlags) > 0 {
		fmt.Fprintf(out, "Red flags: %s\n", strings.Join(snap.Profile.RedFlags, "; "))
	}
}
