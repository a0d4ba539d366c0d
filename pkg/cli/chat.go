package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/qqmikey/datachat/pkg/model"
)

func chatCommand() *cli.Command {
	var (
		cfg            config
		conversationID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "conversation-id",
			Aliases:     []string{"id"},
			Usage:       "Continue an existing conversation",
			Sources:     cli.EnvVars("DATACHAT_CONVERSATION_ID"),
			Destination: &conversationID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with the data assistant",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			as, repo, _, err := cfg.newAssistant(ctx)
			if err != nil {
				return err
			}

			convID := model.ConversationID(conversationID)
			if convID != "" {
				if _, err := repo.GetConversation(ctx, convID); err != nil {
					return goerr.Wrap(err, "failed to load conversation", goerr.V("conversation_id", convID))
				}
			}

			rl, err := readline.New("datachat> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize terminal")
			}
			defer rl.Close()

			out := c.Root().Writer
			fmt.Fprintln(out, "Ask questions about your project data. Type 'exit' to quit.")

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "" {
					continue
				}
				if message == "exit" || message == "quit" {
					break
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Suffix = " thinking..."
				sp.Start()
				envelope, err := as.HandleTurn(ctx, convID, cfg.user, message)
				sp.Stop()

				if err != nil {
					return goerr.Wrap(err, "failed to process message")
				}
				if convID == "" {
					convID = envelope.Meta.ConversationID
					fmt.Fprintf(out, "(conversation %s)\n", convID)
				}

				printEnvelope(out, envelope)
			}

			fmt.Fprintln(out, "Bye.")
			return nil
		},
	}
}

func printEnvelope(out io.Writer, envelope *model.Envelope) {
	fmt.Fprintln(out, envelope.Message)

	switch envelope.Type {
	case model.ResponseAnswer:
		if result, ok := envelope.Data["result"]; ok {
			if raw, err := json.MarshalIndent(result, "", "  "); err == nil {
				fmt.Fprintln(out, string(raw))
			}
		}
		if truncated, ok := envelope.Data["truncated"].(bool); ok && truncated {
			fmt.Fprintln(out, "(result truncated)")
		}
	case model.ResponseClarification:
		if options, ok := envelope.Data["options"].([]model.ClarificationOption); ok {
			for i, opt := range options {
				fmt.Fprintf(out, "  %d. %s\n", i+1, opt.Label)
			}
		}
	}
}
