// Package main 命令行客户端：入库文档、提问、浏览时间轴
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"timeline-rag-api/internal/config"
	einoobs "timeline-rag-api/internal/observability/eino"
	"timeline-rag-api/internal/wire"
	"timeline-rag-api/pkg/logger"
)

var (
	configDir string
	tenantID  string
	backend   string
	verbose   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "timelinectl",
	Short: "Build and query event timelines from documents",
	Long: `timelinectl ingests documents into a per-tenant event timeline and answers
questions against it with multi-step retrieval.

With the memory backend nothing survives the process, so ingest accepts
--ask to question the freshly built timeline in the same run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.LoadFrom(configDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if backend != "" {
			cfg.Store.Backend = backend
		}

		level := cfg.Observability.Logging.Level
		if verbose {
			level = "debug"
		} else if level == "" || level == "info" {
			level = "warn"
		}
		logger.InitWithWriter(os.Stderr, level, "text")
		einoobs.Init()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "configs", "configuration directory")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "default", "tenant id")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "override store.backend (memory|milvus)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(ingestCmd, askCmd, timelineCmd, eventCmd, statusCmd)
}

// bootApp 组装依赖；CLI 下入库任务总是在本进程执行
func bootApp(ctx context.Context) (*wire.App, func(), error) {
	return wire.InitializeApp(ctx, cfg, wire.Options{InlineIngest: true})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
