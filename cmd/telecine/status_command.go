package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"telecine/internal/config"
	"telecine/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				reqCtx := cmd.Context()

				health, err := store.Health(reqCtx)
				if err != nil {
					return err
				}
				queued, err := store.QueuedJobCount(reqCtx)
				if err != nil {
					return err
				}
				paused, err := store.IsPaused(reqCtx, "")
				if err != nil {
					return err
				}
				pausedKinds, err := store.PausedKinds(reqCtx)
				if err != nil {
					return err
				}

				for _, line := range renderSectionHeader("Pipeline", colorize) {
					fmt.Fprintln(out, line)
				}
				rows := [][]string{
					{"Total files", strconv.Itoa(health.Total)},
					{"Discovered", strconv.Itoa(health.Discovered)},
					{"In progress", strconv.Itoa(health.InProgress)},
					{"Completed", strconv.Itoa(health.Completed)},
					{"Failed", strconv.Itoa(health.Failed)},
					{"Skipped", strconv.Itoa(health.Skipped)},
					{"Queued jobs", strconv.Itoa(queued)},
				}
				fmt.Fprintln(out, renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

				if paused {
					fmt.Fprintln(out, "Pipeline is PAUSED")
				}
				for _, kind := range pausedKinds {
					fmt.Fprintf(out, "Stage %s is paused\n", kind)
				}
				fmt.Fprintf(out, "Database: %s\n", store.Path())
				return nil
			})
		},
	}
}
