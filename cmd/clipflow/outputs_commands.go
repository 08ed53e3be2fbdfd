package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clipflow/clipflow/internal/backend"
)

func newOutputsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List merged videos available on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *backend.HTTPClient) error {
				outputs, err := client.ListOutputs(cmd.Context())
				if err != nil {
					return fmt.Errorf("list outputs: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, outputs)
				}

				out := cmd.OutOrStdout()
				if len(outputs) == 0 {
					fmt.Fprintln(out, "No outputs yet")
					return nil
				}
				rows := make([][]string, 0, len(outputs))
				for _, o := range outputs {
					rows = append(rows, []string{
						o.Filename,
						formatBytes(o.Size),
						formatAge(unixSeconds(o.Modified)),
						client.OutputURL(o.Filename),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Filename", "Size", "Modified", "URL"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print outputs as JSON")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var dest string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "download <filename>",
		Short: "Download a merged video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
				return fmt.Errorf("invalid output filename %q", name)
			}

			target := strings.TrimSpace(dest)
			if target == "" {
				target = name
			}
			if info, err := os.Stat(target); err == nil && info.IsDir() {
				target = filepath.Join(target, name)
			}

			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if overwrite {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			file, err := os.OpenFile(target, flags, 0o644)
			if err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("%s already exists (use --overwrite to replace it)", target)
				}
				return fmt.Errorf("create %s: %w", target, err)
			}

			var written int64
			err = ctx.withClient(cmd, func(client *backend.HTTPClient) error {
				var derr error
				written, derr = client.DownloadOutput(cmd.Context(), name, file)
				return derr
			})
			if cerr := file.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(target)
				return fmt.Errorf("download %s: %w", name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s) to %s\n", name, formatBytes(written), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Destination file or directory (default: current directory)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *backend.HTTPClient) error {
				health, err := client.Health(cmd.Context())
				if err != nil {
					return fmt.Errorf("backend %s: %s", client.BaseURL(), backend.Reason(err))
				}
				service := health.Service
				if service == "" {
					service = "backend"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s at %s: %s\n", service, client.BaseURL(), health.Status)
				return nil
			})
		},
	}
}
