package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
	"github.com/ggoodman/jsonrpc-server-go/redisrelay"
	"github.com/ggoodman/jsonrpc-server-go/stdio"
)

func submain(ctx context.Context) int {
	level := new(slog.LevelVar)
	log := logctx.Wrap(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))).With("app", "jsonrpcd")

	cmd := newRootCommand(log, level)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("command failed", slog.String("err", err.Error()))
		}
		return 1
	}
	return 0
}

func newRootCommand(log *slog.Logger, level *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jsonrpcd",
		Short:         "Serve JSON-RPC 2.0 over HTTP and WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := commandConfig(cmd, log, level)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String(flagEnvFile, "", "env file to load before reading the environment (default .env when present)")
	pf.String(flagLogLevel, "info", "log level (debug, info, warn, error)")
	pf.Duration(flagTimeout, 0, "per-call timeout (default 60s)")
	pf.Int64(flagMaxBodyBytes, 0, "maximum request body size in bytes; 0 disables the limit (default 10MiB)")

	f := cmd.Flags()
	f.String(flagListen, "", "listen address or unix socket path (default 127.0.0.1:8080)")
	f.String(flagListenProto, "", "listen protocol: tcp or unix (default tcp)")
	f.String(flagTLSCert, "", "TLS certificate file")
	f.String(flagTLSKey, "", "TLS private key file")
	f.String(flagMetricsPath, "", "path serving Prometheus metrics (default /metrics)")
	f.String(flagWSPrefix, "", "path prefix for WebSocket connections (default /ws)")

	cmd.AddCommand(newStdioCommand(log, level), newRelayCommand(log, level))
	return cmd
}

func newStdioCommand(log *slog.Logger, level *slog.LevelVar) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve newline-delimited JSON-RPC on stdin and stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := commandConfig(cmd, log, level)
			if err != nil {
				return err
			}
			return runStdio(cmd.Context(), cfg, log)
		},
	}
}

func newRelayCommand(log *slog.Logger, level *slog.LevelVar) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Serve JSON-RPC envelopes popped from a Redis list",
		Long:  "Serve JSON-RPC envelopes popped from a Redis list. The relay reads REDIS_ADDR and the RELAY_* variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := commandConfig(cmd, log, level)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg, log)
		},
	}
}

func commandConfig(cmd *cobra.Command, log *slog.Logger, level *slog.LevelVar) (Config, error) {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return Config{}, err
	}
	cfg, err := loadConfig(log, envFile, cmd.Flags())
	if err != nil {
		return Config{}, err
	}
	l, _ := cfg.level()
	level.Set(l)
	return cfg, nil
}

func runServe(ctx context.Context, cfg Config, log *slog.Logger) error {
	s, err := newServer(cfg, log)
	if err != nil {
		return err
	}
	ln, err := s.listen()
	if err != nil {
		return err
	}
	return s.run(ctx, ln)
}

func runStdio(ctx context.Context, cfg Config, log *slog.Logger) error {
	d, err := newDispatcher(cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	h, err := stdio.NewHandler(d, stdio.WithLogger(log))
	if err != nil {
		return err
	}
	serveErr := h.Serve(ctx)
	closeDispatcher(d.Close, log)
	if errors.Is(serveErr, context.Canceled) {
		return nil
	}
	return serveErr
}

func runRelay(ctx context.Context, cfg Config, log *slog.Logger) error {
	d, err := newDispatcher(cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	relay, err := redisrelay.NewFromEnv(ctx, d, redisrelay.WithLogger(log))
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer relay.Close()

	serveErr := relay.Serve(ctx)
	closeDispatcher(d.Close, log)
	if errors.Is(serveErr, context.Canceled) {
		return nil
	}
	return serveErr
}

func closeDispatcher(closeFn func(context.Context) error, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		log.Warn("dispatcher.close.fail", slog.String("err", err.Error()))
	}
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
