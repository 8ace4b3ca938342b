package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/orchestrator"
	"github.com/JakeFAU/follower-audit/internal/report"
)

// newExportCmd writes the flagged followers of a saved audit as CSV.
func newExportCmd() *cobra.Command {
	var (
		extended bool
		outPath  string
	)
	cmd := &cobra.Command{
		Use:   "export <handle>",
		Short: "Export flagged followers as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			csv, err := appInstance.Controller().ExportResults(cmd.Context(), args[0], extended)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), csv)
				return err
			}
			if outPath == "auto" {
				handle, err := orchestrator.NormalizeHandle(args[0])
				if err != nil {
					return err
				}
				outPath = report.FileName(handle, time.Now())
			}
			if err := os.WriteFile(outPath, []byte(csv+"\n"), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&extended, "extended", false, "include reasons and computed metrics")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", `output file; "auto" picks a dated name (default stdout)`)
	return cmd
}

// newShowCmd prints a Markdown report of a saved audit.
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <handle>",
		Short: "Print a Markdown report of a saved audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			record, found, err := appInstance.Controller().LoadPrevious(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w for @%s", audit.ErrNoResults, args[0])
			}
			return report.Markdown(cmd.OutOrStdout(), record)
		},
	}
}

// newClearCmd deletes the saved progress of one target.
func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <handle>",
		Short: "Delete saved progress for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Controller().Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared saved progress for @%s\n", args[0])
			return nil
		},
	}
}

// newListCmd lists every target with saved progress.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with saved progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctrl := appInstance.Controller()
			targets, err := ctrl.Targets(cmd.Context())
			if err != nil {
				return err
			}
			for _, target := range targets {
				record, found, err := ctrl.LoadPrevious(cmd.Context(), target)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d analyzed\t%d suspicious\n",
					record.TargetHandle, record.Status, record.AnalyzedCount, len(record.SuspiciousItems))
			}
			return nil
		},
	}
}
