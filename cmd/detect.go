package cmd

import (
	"context"
	"fmt"

	"logwarden/bootstrap"

	"github.com/spf13/cobra"
)

func newAlertsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List rule-based alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				alerts, err := app.Service.GetAlerts(ctx)
				if err != nil {
					return fmt.Errorf("failed to list alerts: %w", err)
				}
				if opts.outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), alerts)
				}
				printAlerts(cmd.OutOrStdout(), alerts)
				return nil
			})
		},
	}
}

func newAnomaliesCmd(opts *options) *cobra.Command {
	anomaliesCmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Run and inspect ML anomaly detection",
	}

	anomaliesCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Score every event, training a model first if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				stop := opts.spin(cmd.ErrOrStderr(), "Scoring events...")
				res, err := app.Service.RunAnomalyDetection(ctx)
				stop()
				if err != nil {
					return fmt.Errorf("anomaly run failed: %w", err)
				}
				if opts.outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				if res.Skipped {
					warningColor.Fprintln(out, "No events to score")
					return nil
				}
				if res.Trained {
					infoColor.Fprintf(out, "Trained a new model on %d events\n", res.Events)
				}
				successColor.Fprintf(out, "✓ Scored %d events: %d anomalies\n", res.Events, res.Anomalies)
				return nil
			})
		},
	})

	anomaliesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List anomalies from the last run, most anomalous first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				anomalies, err := app.Service.GetAnomalies(ctx)
				if err != nil {
					return fmt.Errorf("failed to list anomalies: %w", err)
				}
				if opts.outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), anomalies)
				}
				printAnomalies(cmd.OutOrStdout(), anomalies)
				return nil
			})
		},
	})

	anomaliesCmd.AddCommand(&cobra.Command{
		Use:   "retrain",
		Short: "Train a fresh model on the current events and replace the stored one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				stop := opts.spin(cmd.ErrOrStderr(), "Training model...")
				n, err := app.Service.RetrainModel(ctx)
				stop()
				if err != nil {
					return fmt.Errorf("retrain failed: %w", err)
				}
				if opts.outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), map[string]any{"training_samples": n, "retrained": n > 0})
				}
				if n == 0 {
					warningColor.Fprintln(cmd.OutOrStdout(), "No events to train on; model unchanged")
					return nil
				}
				successColor.Fprintf(cmd.OutOrStdout(), "✓ Model retrained on %d events\n", n)
				return nil
			})
		},
	})

	return anomaliesCmd
}

func newUnifiedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unified",
		Short: "Show rule and ML alerts as one severity-ranked timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				alerts, err := app.Service.GetUnifiedAlerts(ctx)
				if err != nil {
					return fmt.Errorf("failed to build unified alerts: %w", err)
				}
				if opts.outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), alerts)
				}
				printUnified(cmd.OutOrStdout(), alerts)
				return nil
			})
		},
	}
}
