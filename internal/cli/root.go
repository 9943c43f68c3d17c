// Package cli is the dgchat command line: an interactive chat, one-shot
// questions, ingestion and the queue worker.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dgchat/internal/app"
	"dgchat/internal/chat"
	"dgchat/internal/config"
	"dgchat/internal/ingest"
	"dgchat/internal/logger"

	"github.com/spf13/cobra"
)

// Asker answers one question within a thread.
type Asker interface {
	Ask(ctx context.Context, question, threadID string) (*chat.Answer, error)
}

type Ingester interface {
	Ingest(ctx context.Context, paths []string) (ingest.Report, error)
	IngestDir(ctx context.Context, dir string, recursive bool) (ingest.Report, error)
}

// services is what a command needs from the wired application.
type services struct {
	Asker    Asker
	Ingester Ingester
	App      *app.App
	Config   *config.Config

	close func()
}

func (s *services) Close() {
	if s.close != nil {
		s.close()
	}
}

// newServices is swapped out in tests.
var newServices = buildServices

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel))

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}

	return &services{
		Asker:    a.Engine,
		Ingester: a.Ingest,
		App:      a,
		Config:   cfg,
		close: func() {
			a.Close()
			deps.Close()
		},
	}, nil
}

var rootCmd = &cobra.Command{
	Use:   "dgchat",
	Short: "Chat with the IMDG dangerous goods documents",
	Long: `dgchat answers questions about dangerous goods regulations from an
indexed corpus of IMDG documents. Follow-up questions are condensed
against the thread history before retrieval.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
