package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/session"
)

func newClipsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "clips",
		Short: "List the clips stored on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *backend.HTTPClient) error {
				clips, err := client.ListClips(cmd.Context())
				if err != nil {
					return fmt.Errorf("list clips: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, clips)
				}
				printClips(cmd, clips)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print clips as JSON")

	cmd.AddCommand(newClipsRemoveCommand(ctx))
	return cmd
}

func newClipsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Delete clips from the backend",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					if err := s.Remove(cmd.Context(), id); err != nil {
						return fmt.Errorf("remove %s: %w", id, err)
					}
					fmt.Fprintf(out, "Removed %s\n", id)
				}
				fmt.Fprintf(out, "%d clips remain\n", len(s.Clips()))
				return nil
			})
		},
	}
}

func printClips(cmd *cobra.Command, clips []backend.Clip) {
	out := cmd.OutOrStdout()
	if len(clips) == 0 {
		fmt.Fprintln(out, "No clips uploaded")
		return
	}

	rows := make([][]string, 0, len(clips))
	for _, c := range clips {
		rows = append(rows, []string{
			c.ID,
			c.Filename,
			formatOptionalBytes(c.FileSize),
			formatSeconds(c.Duration),
			formatResolution(c),
			formatFPS(c.FPS),
			formatAudio(c.HasAudio),
			yesNo(c.Thumbnail != ""),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Filename", "Size", "Duration", "Resolution", "FPS", "Audio", "Thumbnail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	))
}
