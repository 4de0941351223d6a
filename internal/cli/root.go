package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the svgctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "svgctl",
		Short:         "Generate SVG artwork and follow generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file; environment variables take precedence")
	root.PersistentFlags().StringVar(&a.sessionPath, "session-db", "", "session database path (default $HOME/.svgstudio/session.db)")

	root.AddCommand(
		newGenerateCommand(a),
		newResumeCommand(a),
		newStatusCommand(a),
		newDownloadCommand(a),
	)
	return root
}

// Execute runs svgctl and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	a := &app{}
	root := newRootCommand(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), errorStyle.Render("error:"), describeError(err))
		return 1
	}
	return 0
}
