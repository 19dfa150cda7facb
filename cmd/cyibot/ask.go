package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	askSession string
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask a question from the terminal",
	Long: `Ask answers a single question given as arguments. Without arguments it
reads one question per line from standard input, keeping the conversation
between lines, until EOF.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Warn("failed to release resources", zap.Error(err))
			}
		}()

		if len(args) > 0 {
			return askOne(cmd.Context(), app.router, cmd.OutOrStdout(), strings.Join(args, " "))
		}
		return askLines(cmd.Context(), app.router, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// asker is the part of the router the ask command drives.
type asker interface {
	Ask(ctx context.Context, sessionID, question string) (*cyibot.Answer, error)
}

func askOne(ctx context.Context, r asker, out io.Writer, question string) error {
	answer, err := r.Ask(ctx, askSession, question)
	if answer == nil {
		return err
	}
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(answer); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintln(out, answer.Text)
	}
	if err != nil {
		logger.Debug("turn failed", zap.Error(err))
	}
	return nil
}

func askLines(ctx context.Context, r asker, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if err := askOne(ctx, r, out, question); err != nil {
			return err
		}
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askSession, "session", "cli", "Session id that keeps conversation memory")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full answer as JSON")
}
