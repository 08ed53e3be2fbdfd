package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clipflow/clipflow/internal/history"
	"github.com/clipflow/clipflow/internal/processing"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled jobs and upload batches",
	}
	historyCmd.AddCommand(newHistoryJobsCommand(ctx))
	historyCmd.AddCommand(newHistoryBatchesCommand(ctx))
	return historyCmd
}

func newHistoryJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent concatenation jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeHistory, err := ctx.openHistory(ctx.logger(cmd.ErrOrStderr(), false))
			defer closeHistory()
			if err != nil {
				return err
			}

			jobs, err := repo.ListJobs(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, jobs)
			}
			printJobs(cmd, jobs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")
	return cmd
}

func newHistoryBatchesCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List recent upload batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeHistory, err := ctx.openHistory(ctx.logger(cmd.ErrOrStderr(), false))
			defer closeHistory()
			if err != nil {
				return err
			}

			batches, err := repo.ListBatches(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list batches: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, batches)
			}
			printBatches(cmd, batches)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of batches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print batches as JSON")
	return cmd
}

func printJobs(cmd *cobra.Command, jobs []processing.Job) {
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		result := j.OutputFilename
		if j.Status == processing.StatusError {
			result = j.ErrorDetail
		}
		if result == "" {
			result = placeholder
		}
		rows = append(rows, []string{
			j.ID,
			string(j.Status),
			strconv.Itoa(len(j.ClipIDs)),
			result,
			formatAge(j.StartedAt),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Status", "Clips", "Result", "Started"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func printBatches(cmd *cobra.Command, batches []history.Batch) {
	out := cmd.OutOrStdout()
	if len(batches) == 0 {
		fmt.Fprintln(out, "No upload batches recorded")
		return
	}

	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		var failures []string
		for _, f := range b.Files {
			if f.Error != "" {
				failures = append(failures, f.Error)
			}
		}
		notes := strings.Join(failures, "; ")
		if b.RefreshError != "" {
			notes = strings.TrimPrefix(notes+"; refresh: "+b.RefreshError, "; ")
		}
		if notes == "" {
			notes = placeholder
		}
		rows = append(rows, []string{
			b.ID,
			strconv.Itoa(b.FileCount),
			strconv.Itoa(b.Succeeded),
			strconv.Itoa(b.Failed),
			notes,
			formatAge(b.StartedAt),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Batch", "Files", "Uploaded", "Failed", "Notes", "Started"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	))
}
