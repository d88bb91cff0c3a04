package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/traffic-export/internal/watermark"
	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

func newDailyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Export every date between the watermark and yesterday",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			result, err := svc.worker.RunBatch(ctx, time.Now())
			if err != nil {
				return err
			}

			for _, artifact := range result.Artifacts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows\n", artifact.Path, artifact.Rows)
			}
			return nil
		},
	}
}

func newSingleCmd(a *app) *cobra.Command {
	var start, end, name string

	cmd := &cobra.Command{
		Use:   "single",
		Short: "Export an arbitrary date range without touching the watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			endDate, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			artifact, err := svc.worker.RunSingle(ctx, startDate, endDate, name)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows\n", artifact.Path, artifact.Rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First date to export (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Date after the last date to export (YYYY-MM-DD, exclusive)")
	cmd.Flags().StringVar(&name, "name", "", "Output file name without extension (default start_end)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	var date string
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the initial watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}

			store := watermark.NewStore(a.cfg.Storage.WatermarkPath, a.logger.Logger)
			if err := store.Seed(d, force); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), watermark.Format(d))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Watermark date (YYYY-MM-DD); the next batch starts the day after")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing watermark")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the dates the next daily run would export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := watermark.NewStore(a.cfg.Storage.WatermarkPath, a.logger.Logger)
			dates, err := store.PendingDates(time.Now())
			if err != nil {
				return err
			}

			for _, d := range dates {
				fmt.Fprintln(cmd.OutOrStdout(), d.Format(domain.DateFormat))
			}
			a.logger.Info("Pending dates", slog.Int("count", len(dates)))
			return nil
		},
	}
}

func parseDateFlag(flag, value string) (time.Time, error) {
	d, err := time.Parse(domain.DateFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q (expected YYYY-MM-DD)", flag, value)
	}
	return d, nil
}
