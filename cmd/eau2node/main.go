// Command eau2node starts one node of an eau2 cluster (§6): pass its
// index, the total cluster size, its own listen address, and (for every
// node but index 0) the rendezvous node's address, and it joins the
// cluster and serves KV requests until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eau2/eau2/pkg/config"
	"github.com/eau2/eau2/pkg/log"
	"github.com/eau2/eau2/pkg/node"
)

func main() {
	app := &cli.App{
		Name:  "eau2node",
		Usage: "run one node of an eau2 distributed KV/dataframe cluster",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "n", Usage: "total number of nodes in the cluster", Required: true},
			&cli.Uint64Flag{Name: "index", Aliases: []string{"i"}, Usage: "this node's index in [0, n)", Required: true},
			&cli.StringFlag{Name: "addr", Usage: "address this node listens on", Required: true},
			&cli.StringFlag{Name: "rendezvous", Usage: "node 0's address (required unless index is 0)"},
			&cli.DurationFlag{Name: "registration-settle", Value: 500 * time.Millisecond, Usage: "how long to wait after registering for peer connections to settle"},
			&cli.Float64Flag{Name: "dial-rate", Value: 5, Usage: "max outbound dial attempts per second"},
			&cli.IntFlag{Name: "cache-bytes", Value: 0, Usage: "size of the optional shared chunk cache (0 disables it)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "if set, serve Prometheus metrics on this address"},
			&cli.StringFlag{Name: "log-file", Usage: "if set, write JSON logs to this rotating file instead of stderr"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug|info|warn|error"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "eau2node:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.ClusterConfig{
		N:                  c.Uint64("n"),
		Index:              c.Uint64("index"),
		ListenAddr:         c.String("addr"),
		RendezvousAddr:     c.String("rendezvous"),
		RegistrationSettle: c.Duration("registration-settle"),
		DialRatePerSecond:  c.Float64("dial-rate"),
		CacheBytes:         c.Int("cache-bytes"),
		MetricsAddr:        c.String("metrics-addr"),
		LogFile:            c.String("log-file"),
		LogLevel:           c.String("log-level"),
	}

	logger := buildLogger(cfg)

	n, err := node.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return err
	}
	logger.Info("eau2node started", "index", cfg.Index, "n", cfg.N, "addr", cfg.ListenAddr)

	if cfg.MetricsAddr != "" {
		go serveMetrics(n, cfg.MetricsAddr, logger)
	}

	<-ctx.Done()
	logger.Info("eau2node shutting down")
	return n.Stop()
}

func buildLogger(cfg config.ClusterConfig) *log.Logger {
	level := parseLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		return log.NewRotatingFile(cfg.LogFile, level)
	}
	return log.New(level)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
