package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ocrd/internal/registry"
)

func newModelsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Short:   "List model checkpoints found under the models directory",
		Example: "  ocrd models --models-dir ~/models/vl",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			models, err := registry.New(cfg.ModelsDir).Scan()
			if err != nil {
				if registry.IsEmpty(err) {
					fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
					return nil
				}
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tQUANT\tPATH")
			for _, m := range models {
				quant := m.Quant
				if quant == "" {
					quant = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, quant, m.Path)
			}
			return tw.Flush()
		},
	}
}
