package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"approvalScope/internal/accumulate"
	"approvalScope/internal/chain"
	"approvalScope/internal/config"
	"approvalScope/internal/decode"
	"approvalScope/internal/pipeline"
	"approvalScope/internal/resolve"
	"approvalScope/internal/scan"
	"approvalScope/internal/server"
	"approvalScope/internal/tokeninfo"
)

func main() {
	root := &cobra.Command{
		Use:          "approvals",
		Short:        "ERC20 approval discovery and reconciliation",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan one owner's approvals and print the accumulated result",
		RunE:  runScan,
	}
	addCommonFlags(scanCmd)

	root.AddCommand(scanCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve approvals over HTTP",
		RunE:  runServe,
	}
	addCommonFlags(serveCmd)
	serveCmd.Flags().String("metadata-url", "", "token metadata service base URL (empty reads from chain only)")
	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "Ethereum RPC URL")
	cmd.Flags().String("owner", "", "owner address whose approvals to discover")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	cmd.Flags().Uint64("batch-size", 10000, "blocks per eth_getLogs batch")
	cmd.Flags().Bool("with-timestamps", true, "resolve block timestamps for events")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Int("resolve-concurrency", 8, "concurrent per-pair allowance reads")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}

	if cfg.RPCURL == "" {
		return config.Config{}, nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Owner) {
		return config.Config{}, nil, fmt.Errorf("owner address is required")
	}

	return cfg, logger, nil
}

func buildAccumulator(cfg config.Config, chainClient *chain.Client, logger *zap.Logger) *accumulate.Accumulator {
	scanner := scan.NewScanner(scan.Config{
		FromBlock:      cfg.FromBlock,
		ToBlock:        cfg.ToBlock,
		BatchSize:      cfg.BatchSize,
		WithTimestamps: cfg.WithTimestamps,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}, chainClient, logger)

	decoder := decode.NewDecoder(chainClient, logger)
	resolver := resolve.NewResolver(chainClient, logger)

	return accumulate.NewAccumulator(scanner, decoder, resolver, cfg.ResolveConcurrency, logger)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	owner := common.HexToAddress(cfg.Owner)
	accumulator := buildAccumulator(cfg, chainClient, logger)

	logger.Info("scan start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("owner", owner.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
	)

	approvals, err := accumulator.Accumulate(ctx, owner)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(approvals)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	accumulator := buildAccumulator(cfg, chainClient, logger)

	tokens, err := tokeninfo.NewClient(tokeninfo.Config{
		BaseURL: cfg.MetadataURL,
	}, chainClient, logger)
	if err != nil {
		return fmt.Errorf("token metadata client: %w", err)
	}

	graph := pipeline.NewGraph(accumulator, tokens, logger)
	graph.SetOwner(ctx, common.HexToAddress(cfg.Owner))

	logger.Info("serve start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("owner", cfg.Owner),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("metadata_url", cfg.MetadataURL),
	)

	return server.NewServer(graph, logger).Run(ctx, cfg.ListenAddr)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
