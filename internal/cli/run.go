package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ocrd/internal/pipeline"
	"ocrd/pkg/types"
)

// consolePublisher prints progress lines to stderr and hands the
// terminal result back over a channel.
type consolePublisher struct {
	errW io.Writer
	done chan *types.RunResult
}

func (c *consolePublisher) Publish(e pipeline.Event) {
	switch e.Type {
	case "log":
		fmt.Fprintln(c.errW, e.Message)
	case "result":
		c.done <- e.Result
	}
}

func newRunCmd(opts *options) *cobra.Command {
	var (
		modelID      string
		template     string
		customPrompt string
	)
	cmd := &cobra.Command{
		Use:     "run <image>",
		Short:   "Run OCR on a single image and print the markdown",
		Example: "  ocrd run page.png\n  ocrd run --template \"Tables Focus\" scan.jpg",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := newLogger(opts.logLevel)
			p, err := buildPipeline(cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			pub := &consolePublisher{errW: cmd.ErrOrStderr(), done: make(chan *types.RunResult, 1)}
			if _, err := p.Start(pipeline.Request{
				ImagePath:    args[0],
				ModelID:      modelID,
				Template:     template,
				CustomPrompt: customPrompt,
			}, pub); err != nil {
				return err
			}
			res := <-pub.done
			if !res.Succeeded() {
				return fmt.Errorf("%s: %s", res.ErrKind, res.ErrMessage)
			}
			if res.LogCaveat != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: run log not written:", res.LogCaveat)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelID, "model", "", "Model id (defaults to the configured default)")
	cmd.Flags().StringVar(&template, "template", "", "Prompt template name, or \"custom\"")
	cmd.Flags().StringVar(&customPrompt, "custom-prompt", "", "Custom prompt text for --template custom")
	return cmd
}
