package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/session"
)

func newConcatCommand(ctx *commandContext) *cobra.Command {
	var outputName string
	var clipIDs []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "concat",
		Short: "Merge clips into one video and wait for the result",
		Long: "Merge clips into one video. Without --ids every uploaded clip is merged " +
			"in the order the backend lists them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				status := newStatusLine(cmd.ErrOrStderr())
				unsubscribe := s.Subscribe(func(v session.ViewState) {
					status.update(v.ProgressLabel)
				})
				defer unsubscribe()

				if _, err := s.Concatenate(cmd.Context(), session.ConcatOptions{
					ClipIDs:        clipIDs,
					OutputFilename: outputName,
				}); err != nil {
					status.finish()
					return fmt.Errorf("start concatenation: %w", err)
				}

				job, err := s.Wait(cmd.Context())
				status.finish()
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, job); err != nil {
						return err
					}
				}
				return reportJob(cmd, job, !asJSON)
			})
		},
	}

	cmd.Flags().StringVarP(&outputName, "output", "o", "", "Output filename (the backend picks one when empty)")
	cmd.Flags().StringSliceVar(&clipIDs, "ids", nil, "Clip IDs to merge, in order (default: all clips)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the finished job as JSON")
	return cmd
}

func reportJob(cmd *cobra.Command, job processing.Job, summary bool) error {
	if job.Status == processing.StatusError {
		return fmt.Errorf("concatenation failed: %s", job.ErrorDetail)
	}
	if !summary {
		return nil
	}
	out := cmd.OutOrStdout()
	if job.FileSize > 0 {
		fmt.Fprintf(out, "Created %s (%s)\n", job.OutputFilename, formatBytes(job.FileSize))
	} else {
		fmt.Fprintf(out, "Created %s\n", job.OutputFilename)
	}
	return nil
}
