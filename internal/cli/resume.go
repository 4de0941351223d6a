package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCommand(a *app) *cobra.Command {
	var (
		outDir string
		bundle bool
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Keep following the generation left in flight by an earlier run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := newRenderer(cmd.ErrOrStderr())
			coord, err := a.coordinator(r.update)
			if err != nil {
				return err
			}
			defer coord.Close()

			att, ok, err := coord.ResumeFromSession(ctx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no generation in flight")
				return nil
			}
			return a.waitAndFinish(cmd, coord, att, outDir, bundle)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to save the artwork in (default SVG_OUTPUT_DIR)")
	cmd.Flags().BoolVar(&bundle, "zip", false, "save a zip with the artwork and a manifest")
	return cmd
}
