package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sameehj/cellgate/pkg/config"
	"github.com/sameehj/cellgate/pkg/exec"
	"github.com/sameehj/cellgate/pkg/grpcapi"
	"github.com/sameehj/cellgate/pkg/history"
	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/runtime"
	"github.com/sameehj/cellgate/pkg/runtime/logging"
	"github.com/sameehj/cellgate/pkg/version"
	"github.com/sameehj/cellgate/pkg/workspace"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "cellgate",
		Short:         "Sandboxed execution gateway for statistics cells",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.cellgate/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(execCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or the default path when that file exists.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			path = config.DefaultConfigPath()
		}
	}
	return config.LoadConfig(path)
}

func serveCmd() *cobra.Command {
	var addr, grpcAddr, httpAddr string
	var maxSessions int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kernel gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
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

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- rt.Serve(ctx) }()

			fmt.Fprintf(cmd.OutOrStdout(), "cellgate listening on %s\n", cfg.Gateway.Addr)
			select {
			case <-waitForSignal():
			case err := <-errCh:
				return err
			}
			cancel()
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "gateway listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (empty disables)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP ops listen address (empty disables)")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "maximum concurrent sessions (0 = config value)")
	return cmd
}

func runCmd() *cobra.Command {
	var sessionID, separator string
	var asJSON, silent bool

	cmd := &cobra.Command{
		Use:   "run [FILE]",
		Short: "Execute cells from a file or stdin in a local session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			source, err := readSource(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			logger, err := logging.Open(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
			if err != nil {
				return err
			}
			defer logger.Close()

			rt, err := runtime.NewRuntime(cfg, runtime.Options{Logger: logger.Logger, Level: logger.Level})
			if err != nil {
				return err
			}
			defer rt.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			g := rt.NewSession(sessionID)
			failed, err := runCells(cmd.Context(), g, splitCells(source, separator), silent, cmd.OutOrStdout(), cmd.ErrOrStderr(), asJSON)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d cell(s) did not complete", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id; settings persist across runs with the same id")
	cmd.Flags().StringVar(&separator, "cell-separator", defaultSeparator, "line that separates cells")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print outcomes as JSON lines")
	cmd.Flags().BoolVar(&silent, "silent", false, "run cells silently")
	return cmd
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Inspect the denylist policy"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the active triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deny, err := cfg.Denylist()
			if err != nil {
				return err
			}
			for _, trigger := range deny.Triggers() {
				fmt.Fprintln(cmd.OutOrStdout(), trigger)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check [FILE]",
		Short: "Screen a cell without executing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deny, err := cfg.Denylist()
			if err != nil {
				return err
			}
			source, err := readSource(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			report := policy.Evaluate(deny, splitLines(source), exec.DefaultCommentPrefix, exec.DefaultCommandPrefix)
			printReport(cmd.OutOrStdout(), report)
			if !report.Passed {
				return fmt.Errorf("%d line(s) rejected", len(report.Violations))
			}
			return nil
		},
	})
	return cmd
}

func execCmd() *cobra.Command {
	var addr, sessionID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec CODE",
		Short: "Execute a cell on a running daemon over gRPC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.GRPC.Addr
			}
			if addr == "" {
				return fmt.Errorf("no gRPC address: pass --addr or set grpc.addr")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client, err := grpcapi.Dial(ctx, addr)
			if err != nil {
				return err
			}
			defer client.Close()
			if sessionID != "" {
				client.WithSession(sessionID)
			}

			reply, err := client.Execute(ctx, &grpcapi.ExecuteRequest{Code: args[0], StoreHistory: true})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session %s\n", reply.SessionID)
			if sessionID == "" {
				// one-shot calls do not keep their session around
				if _, err := client.Release(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "release session: %v\n", err)
				}
			}
			if !printOutcome(cmd.OutOrStdout(), cmd.ErrOrStderr(), reply.Outcome) {
				return fmt.Errorf("%s", reply.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "daemon gRPC address (default: grpc.addr from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "reuse an existing session")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall call timeout")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history SESSION",
		Short: "Show recorded cells of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.Recent(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultLimit, "maximum cells to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}

func waitForSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
