package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sameehj/cellgate/pkg/config"
	"github.com/sameehj/cellgate/pkg/runtime"
	"github.com/sameehj/cellgate/pkg/runtime/logging"
	"github.com/sameehj/cellgate/pkg/version"
	"github.com/sameehj/cellgate/pkg/workspace"
)

var (
	cfgFile     string
	addr        string
	grpcAddr    string
	httpAddr    string
	maxSessions int
	showVersion bool
)

func main() {
	pflag.StringVar(&cfgFile, "config", "", "config file (default: ~/.cellgate/config.yaml)")
	pflag.StringVar(&addr, "addr", "", "gateway listen address")
	pflag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (empty disables)")
	pflag.StringVar(&httpAddr, "http-addr", "", "HTTP ops listen address (empty disables)")
	pflag.IntVar(&maxSessions, "max-sessions", 0, "maximum concurrent sessions (0 = config value)")
	pflag.BoolVar(&showVersion, "version", false, "print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version.String())
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if cfgFile == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			cfgFile = config.DefaultConfigPath()
		}
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Gateway.Addr = addr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if maxSessions > 0 {
		cfg.Gateway.MaxSessions = maxSessions
	}
	if err := workspace.Ensure(); err != nil {
		return err
	}

	logger, err := logging.Open(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer logger.Close()

	rt, err := runtime.NewRuntime(cfg, runtime.Options{Logger: logger.Logger, Level: logger.Level, Scratch: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("cellgated_starting", "version", version.Version, "gateway", cfg.Gateway.Addr, "grpc", cfg.GRPC.Addr, "http", cfg.HTTP.Addr)
	return rt.Serve(ctx)
}
