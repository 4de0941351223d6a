package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	ziputil "svgstudio/pkg/zip"
)

func newDownloadCommand(a *app) *cobra.Command {
	var (
		outDir string
		bundle bool
	)
	cmd := &cobra.Command{
		Use:   "download <generationId>",
		Short: "Download the artwork of a finished generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			genID := strings.TrimSpace(args[0])
			data, contentType, err := a.fetchGeneration(ctx, genID)
			if err != nil {
				return err
			}
			fs, err := a.store(outDir)
			if err != nil {
				return err
			}

			if bundle {
				archive, err := ziputil.ArchiveAssets(
					ziputil.Manifest{GenerationID: genID},
					[]ziputil.Asset{{Filename: genID + ".svg", MIME: contentType, Data: data}},
				)
				if err != nil {
					return err
				}
				data, contentType = archive, "application/zip"
			}
			path, err := fs.SaveArtifact(ctx, genID, data, contentType)
			if err != nil {
				return err
			}
			a.logger.Debug().Str("generation_id", genID).Int("bytes", len(data)).Msg("svgctl: artifact saved")
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to save the artwork in (default SVG_OUTPUT_DIR)")
	cmd.Flags().BoolVar(&bundle, "zip", false, "save a zip with the artwork and a manifest")
	return cmd
}
