package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"svgstudio/internal/progress"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [jobId]",
		Short: "Print a generation job; defaults to the one in flight",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobID := ""
			if len(args) == 1 {
				jobID = strings.TrimSpace(args[0])
			}
			if jobID == "" {
				id, err := a.sessions.ActiveJob(ctx)
				if err != nil {
					return err
				}
				if id == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no generation in flight")
					return nil
				}
				jobID = id
			}

			res, err := a.client.GetJob(ctx, jobID)
			if err != nil {
				return err
			}
			snap := progress.Compute(res.Job.Status, nil)
			fmt.Fprint(cmd.OutOrStdout(), describeJob(res.Job))
			fmt.Fprintf(cmd.OutOrStdout(), "progress   %d%% %s\n", snap.Percent, subtleStyle.Render(snap.Subtext))
			return nil
		},
	}
}
