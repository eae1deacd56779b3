package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mkalis/bursar/internal/budget"
	"github.com/mkalis/bursar/internal/jobs"
	"github.com/mkalis/bursar/internal/notify"
	"github.com/mkalis/bursar/internal/recurring"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run the background maintenance jobs",
		Long: `Fires due recurring expenses, rolls recurring budgets into their next
period, and refreshes cached budget statistics.

By default the jobs run on their configured intervals until interrupted.
With --once each job runs a single time and the command exits.`,
		RunE: runJobs,
	}

	cmd.Flags().Bool("once", false, "Run every job once and exit")

	return cmd
}

func runJobs(cmd *cobra.Command, _ []string) error {
	once, _ := cmd.Flags().GetBool("once")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(cmd.Context()); err != nil {
		return err
	}

	scheduler := recurring.NewScheduler(store)
	aggregator := budget.NewAggregator(store)

	var publisher jobs.ResultPublisher
	if url := viper.GetString("amqp.url"); url != "" {
		amqpPublisher, err := notify.NewPublisher(url,
			viper.GetString("amqp.exchange"),
			viper.GetString("amqp.queue"))
		if err != nil {
			return err
		}
		defer func() { _ = amqpPublisher.Close() }()
		publisher = amqpPublisher
		slog.Info("publishing job results", "exchange", viper.GetString("amqp.exchange"))
	}

	runner, err := jobs.NewRunner([]jobs.Job{
		{
			Name:     "recurring-expenses",
			Interval: intervalConfig("jobs.recurring_interval", time.Hour),
			Run:      scheduler.ProcessDueExpenses,
		},
		{
			Name:     "budget-rollover",
			Interval: intervalConfig("jobs.rollover_interval", time.Hour),
			Run:      aggregator.CreateNextPeriodBudgets,
		},
		{
			Name:     "budget-stats",
			Interval: intervalConfig("jobs.stats_interval", 6*time.Hour),
			Run:      aggregator.UpdateAllActiveBudgetsStats,
		},
	}, publisher)
	if err != nil {
		return err
	}

	if once {
		return runner.RunOnce(cmd.Context(), time.Now())
	}

	err = runner.Start(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func intervalConfig(key string, fallback time.Duration) time.Duration {
	if d := viper.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}
