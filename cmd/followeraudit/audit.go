package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/classify"
	"github.com/JakeFAU/follower-audit/internal/orchestrator"
)

type auditOptions struct {
	fresh  bool
	resume bool
	policy string
}

// newAuditCmd creates the 'audit' subcommand, which runs one session in the
// foreground until it completes, is stopped, or fails.
func newAuditCmd() *cobra.Command {
	opts := &auditOptions{}
	cmd := &cobra.Command{
		Use:   "audit <handle>",
		Short: "Audit the followers of an account",
		Long: `Collects the follower list of <handle> and inspects every follower.
A previous audit of the same account is resumed unless --fresh is given.

Press Ctrl-C once to stop and save progress, twice to abort without saving.
Send SIGUSR1 to pause or resume.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "ignore saved progress and start over")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "continue saved progress (default)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "classification policy: five_signal_or or two_signal_and")
	cmd.MarkFlagsMutuallyExclusive("fresh", "resume")
	return cmd
}

func runAudit(cmd *cobra.Command, target string, opts *auditOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctrl := appInstance.Controller()
	logger := appInstance.Logger()
	out := cmd.OutOrStdout()

	settings := ctrl.Defaults()
	if opts.policy != "" {
		settings.Policy = audit.PolicyName(opts.policy)
	}
	if _, err := classify.New(settings); err != nil {
		return err
	}

	if !opts.fresh {
		prev, found, err := ctrl.LoadPrevious(cmd.Context(), target)
		if err != nil {
			return err
		}
		if found {
			fmt.Fprintf(out, "resuming @%s: %d followers already analyzed, %d flagged\n",
				prev.TargetHandle, prev.AnalyzedCount, len(prev.SuspiciousItems))
		}
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(signals)

	if _, err := ctrl.Start(cmd.Context(), target, settings, orchestrator.StartOptions{Fresh: opts.fresh}); err != nil {
		return err
	}

	type waitResult struct {
		record audit.ProgressRecord
		err    error
	}
	done := make(chan waitResult, 1)
	go func() {
		record, err := ctrl.Wait(context.WithoutCancel(cmd.Context()))
		done <- waitResult{record: record, err: err}
	}()

	interrupts := 0
	for {
		select {
		case res := <-done:
			status, _ := ctrl.Status()
			printOutcome(out, status, res.record)
			return res.err
		case sig := <-signals:
			switch sig {
			case syscall.SIGUSR1:
				togglePause(ctrl, logger)
			default:
				interrupts++
				if interrupts == 1 {
					fmt.Fprintln(cmd.ErrOrStderr(), "stopping after the current follower, interrupt again to abort")
					if err := ctrl.Stop(); err != nil {
						logger.Warn("stop request rejected", zap.Error(err))
					}
					continue
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "aborting without saving")
				ctrl.Abort()
			}
		}
	}
}

func togglePause(ctrl *orchestrator.Controller, logger *zap.Logger) {
	status, err := ctrl.Status()
	if err != nil {
		return
	}
	if status.State == "paused" {
		err = ctrl.Resume()
	} else {
		err = ctrl.Pause()
	}
	if err != nil {
		logger.Warn("pause toggle rejected", zap.String("state", status.State), zap.Error(err))
	}
}

func printOutcome(w io.Writer, status orchestrator.Status, record audit.ProgressRecord) {
	switch {
	case status.Error != "":
		fmt.Fprintf(w, "audit of @%s failed: %s\n", status.Target, status.Error)
	case record.Status == audit.RecordStopped:
		fmt.Fprintf(w, "audit of @%s stopped: %d analyzed, %d suspicious (%.1f%%). Run again to resume.\n",
			record.TargetHandle, record.AnalyzedCount, len(record.SuspiciousItems), record.SuspiciousPercent())
	default:
		fmt.Fprintf(w, "audit of @%s complete: %d analyzed, %d suspicious (%.1f%%)\n",
			record.TargetHandle, record.AnalyzedCount, len(record.SuspiciousItems), record.SuspiciousPercent())
	}
	if status.Error == "" && len(record.SuspiciousItems) > 0 {
		fmt.Fprintf(w, "export with: followeraudit export %s\n", record.TargetHandle)
	}
}
