package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatrelay/internal/models"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <thread-id> <text>",
		Short: "Send a message to a thread and print the exchange",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			threadID := args[0]
			text := strings.Join(args[1:], " ")

			if err := app.coord.Select(cmd.Context(), threadID); err != nil {
				return err
			}
			if err := app.engine.SubmitUserMessage(cmd.Context(), threadID, text); err != nil {
				return err
			}
			// Block until the persist and completion round trip settles.
			app.engine.Wait()

			for _, msg := range app.engine.Log() {
				marker := " "
				if msg.Status == models.StatusFailed {
					marker = "!"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-4s %s\n", marker, msg.Sender, msg.Content)
			}
			return nil
		},
	}
}
