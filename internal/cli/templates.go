package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ocrd/internal/prompts"
)

func newTemplatesCmd(opts *options) *cobra.Command {
	var showBody bool
	cmd := &cobra.Command{
		Use:     "templates",
		Short:   "List prompt templates",
		Example: "  ocrd templates\n  ocrd templates --body",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := prompts.Load(cfg.PromptsFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range store.List() {
				marker := ""
				if t.Custom {
					marker = " (custom)"
				}
				fmt.Fprintf(out, "%s%s\n", t.Name, marker)
				if showBody {
					fmt.Fprintf(out, "    %s\n", t.Body)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showBody, "body", false, "Print template bodies as well")
	return cmd
}
