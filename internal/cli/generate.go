package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"svgstudio/internal/attempt"
	"svgstudio/internal/domain"
	"svgstudio/internal/domain/jsoncfg"
	ziputil "svgstudio/pkg/zip"
)

func newGenerateCommand(a *app) *cobra.Command {
	var (
		style   string
		model   string
		privacy string
		outDir  string
		bundle  bool
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Submit a prompt and follow the job until the artwork is ready",
		Long: "Submit a prompt and follow the job until the artwork is ready.\n" +
			"Without a prompt the last submitted draft is used again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, err := a.generateInput(ctx, args, style, model, privacy)
			if err != nil {
				return err
			}

			a.warmSocket(ctx)
			r := newRenderer(cmd.ErrOrStderr())
			coord, err := a.coordinator(r.update)
			if err != nil {
				return err
			}
			defer coord.Close()

			return a.waitAndFinish(cmd, coord, coord.StartAttempt(ctx, in), outDir, bundle)
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "artwork style: "+strings.Join(jsoncfg.Styles(), ", "))
	cmd.Flags().StringVar(&model, "model", "", "generation model (default "+jsoncfg.DefaultModel+")")
	cmd.Flags().StringVar(&privacy, "privacy", "", "public or private (default public)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to save the artwork in (default SVG_OUTPUT_DIR)")
	cmd.Flags().BoolVar(&bundle, "zip", false, "save a zip with the artwork and a manifest")
	return cmd
}

// generateInput builds the request from args and flags, falling back to the
// saved draft when no prompt is given. Flags override draft fields.
func (a *app) generateInput(ctx context.Context, args []string, style, model, privacy string) (jsoncfg.GenerateInput, error) {
	var in jsoncfg.GenerateInput
	if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
		in.Prompt = prompt
	} else {
		draft, ok, err := a.sessions.Draft(ctx)
		if err != nil {
			return in, err
		}
		if !ok {
			return in, errors.New("a prompt is required (no saved draft)")
		}
		in = draft
	}
	if style != "" {
		in.Style = style
	}
	if model != "" {
		in.Model = model
	}
	if privacy != "" {
		p, err := domain.ParsePrivacy(privacy)
		if err != nil {
			return in, err
		}
		in.Privacy = p
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return in, err
	}
	return in, nil
}

// finishJob prints the outcome and stores the artwork of a succeeded job.
func (a *app) finishJob(cmd *cobra.Command, job domain.Job, outDir string, bundle bool) error {
	fmt.Fprint(cmd.OutOrStdout(), describeJob(job))
	if job.Status == domain.JobStatusFailed {
		return &jobFailedError{job: job}
	}
	if !job.Status.IsTerminal() {
		fmt.Fprintf(cmd.OutOrStdout(), "the job is still in progress; check it with `svgctl status %s`\n", job.ID)
		return nil
	}
	if job.Generation == nil {
		return fmt.Errorf("job %s finished without artwork", job.ID)
	}
	path, err := a.saveGeneration(cmd.Context(), job, outDir, bundle)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved      %s\n", path)
	return nil
}

func (a *app) saveGeneration(ctx context.Context, job domain.Job, outDir string, bundle bool) (string, error) {
	fs, err := a.store(outDir)
	if err != nil {
		return "", err
	}
	gen := *job.Generation
	if !bundle && strings.TrimSpace(gen.SVG) != "" {
		return fs.SaveGeneration(ctx, &gen)
	}
	data, contentType := []byte(gen.SVG), "image/svg+xml"
	if strings.TrimSpace(gen.SVG) == "" {
		data, contentType, err = a.fetchGeneration(ctx, gen.ID)
		if err != nil {
			return "", err
		}
	}
	if bundle {
		archive, err := ziputil.ArchiveAssets(ziputil.Manifest{
			GenerationID: gen.ID,
			JobID:        job.ID,
			Prompt:       job.Prompt,
			Style:        job.Style,
			Model:        job.Model,
			CreatedAt:    gen.CreatedAt,
		}, []ziputil.Asset{{Filename: gen.ID + ".svg", MIME: contentType, Data: data}})
		if err != nil {
			return "", err
		}
		return fs.SaveArtifact(ctx, gen.ID, archive, "application/zip")
	}
	return fs.SaveArtifact(ctx, gen.ID, data, contentType)
}

func (a *app) fetchGeneration(ctx context.Context, generationID string) ([]byte, string, error) {
	link, err := a.client.DownloadURL(ctx, generationID)
	if err != nil {
		return nil, "", err
	}
	return a.client.FetchArtifact(ctx, link)
}

// waitAndFinish blocks on att and reports its outcome.
func (a *app) waitAndFinish(cmd *cobra.Command, coord *attempt.Coordinator, att *attempt.Attempt, outDir string, bundle bool) error {
	job, err := att.Wait(cmd.Context())
	if err != nil {
		return err
	}
	if coord.View().Duplicate {
		fmt.Fprintln(cmd.ErrOrStderr(), subtleStyle.Render("duplicate submission, showing the existing job"))
	}
	return a.finishJob(cmd, job, outDir, bundle)
}
