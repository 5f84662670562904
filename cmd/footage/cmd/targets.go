package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banshee-data/footage.report/internal/match"
)

// newTargetsCommand manages the target registry on the matcher service.
func newTargetsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage registered suspect targets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "register <target-id> <image-file>",
		Short: "Register a target from a reference image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetID, path := args[0], args[1]
			img, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			client := match.NewClient(opts.matcherURL, opts.tuning.GetMatchingTimeout())
			dim, err := client.RegisterTarget(cmd.Context(), targetID, img)
			if err != nil {
				return fmt.Errorf("failed to register target: %w", err)
			}
			color.Green("registered %s (feature dimension %d)", targetID, dim)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := match.NewClient(opts.matcherURL, opts.tuning.GetMatchingTimeout())
			ids, err := client.RegisteredTargets(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list targets: %w", err)
			}
			if len(ids) == 0 {
				color.Yellow("no targets registered")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <target-id>",
		Short: "Delete a registered target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := match.NewClient(opts.matcherURL, opts.tuning.GetMatchingTimeout())
			if err := client.DeleteTarget(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete target: %w", err)
			}
			color.Green("deleted %s", args[0])
			return nil
		},
	})

	return cmd
}
