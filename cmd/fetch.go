package cmd

import (
	"fmt"

	"github.com/krau/konacaption/caption"
	"github.com/krau/konacaption/hub"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [model-id]",
	Short: "Download the captioning model into the cache directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		opts := caption.HubOptions(cfg)
		if len(args) == 1 {
			opts.ModelID = args[0]
		}
		files, err := hub.Resolve(cmd.Context(), opts, logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "vision: ", files.Vision)
		fmt.Fprintln(out, "decoder:", files.Decoder)
		fmt.Fprintln(out, "vocab:  ", files.Vocab)
		if files.Config != "" {
			fmt.Fprintln(out, "config: ", files.Config)
		}
		return nil
	},
}
