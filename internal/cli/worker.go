package cli

import (
	"errors"
	"log/slog"

	"dgchat/internal/config"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerNoMetrics bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume ingestion tasks from NSQ",
	Long: `Run the ingestion worker. It consumes file batches from the
ingest.task.file topic and indexes them, and serves /metrics and /health
on METRICS_ADDR until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerNoMetrics, "no-metrics", false, "do not start the metrics listener")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	svc, err := newServices(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()
	if svc.App == nil {
		return errors.New("worker needs the full application")
	}
	cfg := svc.Config

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = max(cfg.WorkerMaxFlight, 1)
	consumer, err := nsq.NewConsumer(config.TopicIngestFile, cfg.NSQChannel, nsqCfg)
	if err != nil {
		return err
	}
	consumer.AddHandler(svc.App.IngestConsumer)

	if cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return err
	}
	slog.Info("ingest worker connected", "topic", config.TopicIngestFile, "channel", cfg.NSQChannel)

	ctx := cmd.Context()
	g, ctx := errgroup.WithContext(ctx)
	if !workerNoMetrics {
		g.Go(func() error { return svc.App.Run(ctx, cfg.MetricsAddr) })
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-consumer.StopChan:
		}
		consumer.Stop()
		<-consumer.StopChan
		slog.Info("ingest worker stopped")
		return nil
	})
	return g.Wait()
}
