package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
	"github.com/vibast-solutions/ms-go-settlements/app/service"
	"github.com/vibast-solutions/ms-go-settlements/config"
)

var (
	workerMode bool
	jobTimeout time.Duration
)

type batchFunc func(s *service.PaymentService, ctx context.Context) error

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll rails for stale pending payments",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("reconcile",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			(*service.PaymentService).RunReconcileBatch,
		)
	},
}

var effectsCmd = &cobra.Command{
	Use:   "effects",
	Short: "Run completion side effect commands",
}

var effectsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Retry due license renewals and payment confirmations",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("effects_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.EffectsDispatchInterval },
			(*service.PaymentService).RunDispatchEffectsBatch,
		)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expirePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Fail payments that stayed pending past the timeout",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("expire_pending",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpirePendingInterval },
			(*service.PaymentService).RunExpirePendingBatch,
		)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(effectsCmd)
	rootCmd.AddCommand(expireCmd)
	effectsCmd.AddCommand(effectsDispatchCmd)
	expireCmd.AddCommand(expirePendingCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
	rootCmd.PersistentFlags().DurationVar(&jobTimeout, "job-timeout", 5*time.Minute, "Upper bound for a single batch run")
}

func runCommand(name string, intervalResolver func(cfg *config.Config) time.Duration, fn batchFunc) {
	cfg, paymentService, cleanup := mustCreatePaymentService()
	defer cleanup()

	// SIGINT/SIGTERM cancel in-flight rail calls; rows stay PENDING for the next run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !workerMode {
		runJob(ctx, name, paymentService, fn)
		return
	}

	interval := intervalResolver(cfg)
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}
	logrus.WithFields(logrus.Fields{"job": name, "interval": interval.String()}).Info("Worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runJob(ctx, name, paymentService, fn)
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(ctx, name, paymentService, fn)
		}
	}
}

func runJob(parent context.Context, name string, paymentService *service.PaymentService, fn batchFunc) {
	ctx := parent
	if jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(paymentService, ctx)
	latency := time.Since(start)
	metrics.ObserveJobRun(name, latency, err)

	entry := logrus.WithFields(logrus.Fields{"job": name, "latency": latency.String()})
	if err != nil {
		entry.WithError(err).Error("job_failed")
		return
	}
	entry.Info("job_completed")
}
