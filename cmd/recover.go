package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Open the configured system, replay its journal and shut down",
	Long: `Open the configured system, replay its journal and shut down.

Every committed transaction found in the journal is applied to its
components and the journal is emptied. Running it on a clean system does
nothing.`,
	Args:    cobra.NoArgs,
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSystem()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: replayed %d journal entries\n",
			s.Config().DataDir, s.Replayed())
		if b := s.Blocks(); b != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "blocks: %d allocated\n", b.Limit())
		}
		return s.Close()
	},
}
