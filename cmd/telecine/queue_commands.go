package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"telecine/internal/config"
	"telecine/internal/integrity"
	"telecine/internal/logging"
	"telecine/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStates []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files in the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reqCtx := cmd.Context()

				var states []queue.FileState
				for _, raw := range listStates {
					state, ok := queue.ParseFileState(raw)
					if !ok {
						return fmt.Errorf("unknown state %q", raw)
					}
					states = append(states, state)
				}

				files, err := store.ListFiles(reqCtx, states...)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No files in the pipeline")
					return nil
				}

				sessions, err := sessionNames(reqCtx, store)
				if err != nil {
					return err
				}

				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(files))
				for _, file := range files {
					rows = append(rows, []string{
						strconv.FormatInt(file.ID, 10),
						sessions[file.SessionID],
						file.Filename,
						renderState(file.State, colorize),
						string(file.FailureCategory),
						truncateText(file.ErrorMessage, 60),
					})
				}
				table := renderTable(
					[]string{"ID", "Session", "Filename", "State", "Category", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStates, "state", nil, "Filter by file state (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one file with its job history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reqCtx := cmd.Context()
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				file, err := store.GetFile(reqCtx, id)
				if err != nil {
					return err
				}
				if file == nil {
					return fmt.Errorf("file %d not found", id)
				}

				for _, line := range renderSectionHeader(file.Filename, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "State:       %s\n", renderState(file.State, colorize))
				fmt.Fprintf(out, "Remote path: %s\n", file.RemotePath)
				if file.LocalPath != "" {
					fmt.Fprintf(out, "Staged:      %s\n", file.LocalPath)
				}
				if file.FinalPath != "" {
					fmt.Fprintf(out, "Library:     %s\n", file.FinalPath)
				}
				if file.SizeBytes > 0 {
					fmt.Fprintf(out, "Size:        %d bytes\n", file.SizeBytes)
				}
				if file.State == queue.FileFailed {
					fmt.Fprintf(out, "Category:    %s\n", file.FailureCategory)
					fmt.Fprintf(out, "Error:       %s\n", file.ErrorMessage)
					if file.RetryAfter != nil {
						fmt.Fprintf(out, "Retry after: %s\n", file.RetryAfter.Format(time.RFC3339))
					}
					fmt.Fprintf(out, "Recovery attempts: %d\n", file.RecoveryAttempts)
				}

				jobs, err := store.JobsForFile(reqCtx, file.ID)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					progress := fmt.Sprintf("%.0f%%", job.ProgressPercent)
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Kind),
						string(job.State),
						fmt.Sprintf("%d/%d", job.Retries, job.MaxRetries),
						progress,
						truncateText(job.ErrorMessage, 50),
					})
				}
				table := renderTable(
					[]string{"Job", "Kind", "State", "Retries", "Progress", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id> [id...]",
		Short: "Requeue failed files immediately, ahead of automatic recovery",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reqCtx := cmd.Context()
				svc := integrity.NewService(cfg, store, logging.NewNop())

				for _, raw := range args {
					id, err := strconv.ParseInt(raw, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid file id %q", raw)
					}
					if err := retryFile(reqCtx, cfg, store, svc, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "File %d requeued\n", id)
				}
				return nil
			})
		},
	}
}

// retryFile forces a failed file back onto the queue at the manual-retry
// tier. Unlike automatic recovery it ignores the failure category, backoff
// window, and connectivity state: the operator asked for it now.
func retryFile(ctx context.Context, cfg *config.Config, store *queue.Store, svc *integrity.Service, id int64) error {
	file, err := store.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("file %d not found", id)
	}
	if file.State != queue.FileFailed {
		return fmt.Errorf("file %d is %s, only failed files can be retried", id, file.State)
	}

	checkpoint, err := store.CheckpointForFile(ctx, file)
	if err != nil {
		return err
	}
	kind, ok := kindForCheckpoint(checkpoint)
	if !ok && checkpoint == queue.FileCompleted && file.FailureJobKind.IsPostCompletion() && analyticsEnabled(cfg, file.FailureJobKind) {
		// Completed pipeline, failed analytics stage: rerun that stage
		// rather than discarding the failure as done.
		kind = file.FailureJobKind
		ok = true
	}
	if !ok {
		file.State = queue.FileCompleted
		file.ClearFailureTracking()
		return store.ApplyTransition(ctx, nil, file, &queue.Event{
			FileID:    file.ID,
			EventType: queue.EventFileCompleted,
			Payload:   `{"source":"manual_retry"}`,
		})
	}

	file.State = checkpoint
	file.ErrorMessage = ""
	file.RetryAfter = nil
	event := &queue.Event{
		FileID:    file.ID,
		EventType: queue.EventJobRequeued,
		Payload:   fmt.Sprintf(`{"source":"manual_retry","checkpoint":%q,"kind":%q}`, checkpoint, kind),
	}
	if err := store.ApplyTransition(ctx, nil, file, event); err != nil {
		return err
	}
	_, _, err = svc.GetOrCreateJob(ctx, file.ID, kind, queue.PriorityManualRetry)
	return err
}

func kindForCheckpoint(checkpoint queue.FileState) (queue.JobKind, bool) {
	switch checkpoint {
	case queue.FileDiscovered:
		return queue.JobCopy, true
	case queue.FileCopied:
		return queue.JobProcess, true
	case queue.FileProcessed:
		return queue.JobOrganize, true
	default:
		return "", false
	}
}

func analyticsEnabled(cfg *config.Config, kind queue.JobKind) bool {
	switch kind {
	case queue.JobTranscribe:
		return cfg.Transcription.Enabled
	case queue.JobAnalyze:
		return cfg.Analysis.Enabled
	default:
		return false
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				ok, err := store.RequestCancellation(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job %d is not running or not cancellable", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %d\n", id)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and skipped files from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reqCtx := cmd.Context()
				states := []queue.FileState{queue.FileCompleted, queue.FileSkipped}
				if clearFailed {
					states = append(states, queue.FileFailed)
				}
				removed, err := store.ClearFiles(reqCtx, states...)
				if err != nil {
					return err
				}
				if _, err := store.PruneSessions(reqCtx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Also remove failed files")
	return cmd
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause [stage]",
		Short: "Pause the whole pipeline or one stage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				return setPaused(cmd, store, args, true)
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [stage]",
		Short: "Resume the whole pipeline or one stage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				return setPaused(cmd, store, args, false)
			})
		},
	}
}

func setPaused(cmd *cobra.Command, store *queue.Store, args []string, paused bool) error {
	verb := "resumed"
	if paused {
		verb = "paused"
	}
	if len(args) == 0 {
		if err := store.SetPaused(cmd.Context(), paused); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s\n", verb)
		return nil
	}
	kind, ok := queue.ParseJobKind(args[0])
	if !ok {
		return fmt.Errorf("unknown stage %q", args[0])
	}
	if err := store.SetKindPaused(cmd.Context(), kind, paused); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stage %s %s\n", kind, verb)
	return nil
}

func sessionNames(ctx context.Context, store *queue.Store) (map[int64]string, error) {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(sessions))
	for _, session := range sessions {
		names[session.ID] = session.Name
	}
	return names, nil
}
