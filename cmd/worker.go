package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/internal/pipeline"
	"github.com/caseworks/docpipe/internal/store"
)

var (
	workerPollSecs int
	workerOnce     bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued runs continuously",
	Long:  "Polls the store for queued pipeline runs and executes them with bounded concurrency until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		interval := time.Duration(workerPollSecs) * time.Second
		zap.L().Info("worker started",
			zap.Int("concurrency", cfg.Pipeline.WorkerConcurrency),
			zap.Duration("poll_interval", interval),
		)

		for {
			n, err := drainQueued(ctx, env.Store, env.Orchestrator, cfg.Pipeline.WorkerConcurrency)
			if err != nil {
				return err
			}
			if n > 0 {
				zap.L().Info("worker batch finished", zap.Int("runs", n))
			}
			if workerOnce {
				return nil
			}

			select {
			case <-ctx.Done():
				zap.L().Info("worker stopping")
				return nil
			case <-time.After(interval):
			}
		}
	},
}

// drainQueued executes every currently queued run with bounded concurrency
// and returns how many were dispatched. Individual run failures are already
// recorded on the run and do not stop the batch.
func drainQueued(ctx context.Context, st store.Store, orch *pipeline.Orchestrator, concurrency int) (int, error) {
	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusQueued})
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, run := range runs {
		g.Go(func() error {
			if err := orch.Execute(gctx, run.ID); err != nil {
				zap.L().Error("worker: run failed",
					zap.String("run_id", run.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return len(runs), err
	}
	return len(runs), nil
}

func init() {
	workerCmd.Flags().IntVar(&workerPollSecs, "poll-interval", 10, "seconds between queue polls")
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "drain the queue once and exit")
	rootCmd.AddCommand(workerCmd)
}
