package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clipflow/clipflow/internal/api"
	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/session"
	"github.com/clipflow/clipflow/internal/upload"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload video files as clips",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				status := newStatusLine(cmd.ErrOrStderr())
				unsubscribe := s.Subscribe(func(v session.ViewState) {
					if v.Upload != nil {
						status.update(uploadLine(v.Upload))
					}
				})
				batch, err := s.Upload(cmd.Context(), args)
				unsubscribe()
				status.finish()
				if err != nil {
					return err
				}

				if asJSON {
					if err := writeJSON(cmd, api.BatchToResponse(batch)); err != nil {
						return err
					}
				} else {
					printBatch(cmd, batch)
				}
				if batch.RefreshErr != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: clip list not refreshed: %s\n", backend.Reason(batch.RefreshErr))
				}
				if failed := batch.Failed(); failed > 0 {
					return fmt.Errorf("%d of %d uploads failed", failed, len(batch.Files))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the batch result as JSON")
	return cmd
}

func uploadLine(p *upload.Progress) string {
	line := fmt.Sprintf("uploading %d/%d: %s", p.Done+1, p.Total, filepath.Base(p.File))
	if p.Done >= p.Total {
		line = fmt.Sprintf("uploaded %d/%d", p.Done, p.Total)
	}
	if p.Failed > 0 {
		line += fmt.Sprintf(" (%d failed)", p.Failed)
	}
	return line
}

func printBatch(cmd *cobra.Command, batch *upload.BatchResult) {
	rows := make([][]string, 0, len(batch.Files))
	for _, f := range batch.Files {
		result := placeholder
		clipID := placeholder
		switch {
		case f.Err != nil:
			result = "failed: " + backend.Reason(f.Err)
		case f.Clip != nil:
			result = "uploaded"
			clipID = f.Clip.ID
		}
		rows = append(rows, []string{filepath.Base(f.File), clipID, result})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable([]string{"File", "Clip", "Result"}, rows, nil))
	fmt.Fprintf(out, "%d uploaded, %d failed\n", batch.Succeeded(), batch.Failed())
}
