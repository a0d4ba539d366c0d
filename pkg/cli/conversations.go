package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func conversationsCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "conversations",
		Usage: "List conversations of the current user",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger()

			repo, err := cfg.newRepository()
			if err != nil {
				return err
			}

			convs, err := repo.ListConversations(ctx, cfg.user)
			if err != nil {
				return err
			}

			out := c.Root().Writer
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations.")
				return nil
			}
			for _, conv := range convs {
				fmt.Fprintf(out, "%s  %s  %s\n",
					conv.ID, conv.UpdatedAt.Format("2006-01-02 15:04"), conv.Title)
			}
			return nil
		},
	}
}
