package ltqcli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tclesius/ltq/broker"
	"github.com/tclesius/ltq/ltqlog"
)

// NewRootCmd builds the ltq root command, wiring run/clear/size against
// reg. reg must already have every Worker/App the process can target
// registered before Execute is called, since the registering is done at
// build time, not discovered at runtime.
func NewRootCmd(reg *Registry) *cobra.Command {
	root := &cobra.Command{
		Use:   "ltq",
		Short: "LTQ - a lightweight task queue",
		Long:  "ltq runs and inspects LTQ Workers and Apps backed by a Redis or in-process broker.",
	}

	root.AddCommand(newRunCmd(reg), newClearCmd(), newSizeCmd())
	return root
}

// exactArg requires exactly one positional argument, returning a UsageError
// (exit code 2) instead of cobra's default so main can distinguish CLI
// misuse from startup/runtime failure.
func exactArg(name string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usageErrorf("expected exactly one <%s> argument, got %d", name, len(args))
		}
		return nil
	}
}

func newRunCmd(reg *Registry) *cobra.Command {
	var (
		asApp       bool
		concurrency int
		logLevel    string
		brokerURL   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Start a registered Worker (or, with --app, an App) and block until signal",
		Args:  exactArg("target"),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			if logLevel != "" {
				if err := ltqlog.SetLevel(logLevel); err != nil {
					return usageErrorf("invalid --log-level %q: %v", logLevel, err)
				}
			}

			buildOpts := BuildOptions{Concurrency: concurrency, BrokerURL: brokerURL}

			var runnable Runnable
			if asApp {
				build, err := reg.ResolveApp(target)
				if err != nil {
					return usageErrorf("%v", err)
				}
				runnable, err = build(buildOpts)
				if err != nil {
					return fmt.Errorf("ltqcli: building app %q: %w", target, err)
				}
			} else {
				build, err := reg.ResolveWorker(target)
				if err != nil {
					return usageErrorf("%v", err)
				}
				runnable, err = build(buildOpts)
				if err != nil {
					return fmt.Errorf("ltqcli: building worker %q: %w", target, err)
				}
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						ltqlog.Log.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server exited")
					}
				}()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- runnable.Run(ctx) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("ltqcli: %s exited with error: %w", target, err)
				}
				return nil
			case <-sigCh:
				runnable.Stop()
				<-errCh
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&asApp, "app", false, "resolve target as an App instead of a Worker")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override Worker concurrency (0 = use registered default)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&brokerURL, "broker-url", "", "broker URL override (redis://... or memory://)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, expose Prometheus metrics at this address (e.g. :9090)")
	return cmd
}

func newClearCmd() *cobra.Command {
	var redisURL string

	cmd := &cobra.Command{
		Use:   "clear <queue>",
		Short: "Delete all messages for queue",
		Args:  exactArg("queue"),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := args[0]
			br, err := openBroker(redisURL)
			if err != nil {
				return err
			}
			defer br.Close()

			if err := br.Clear(cmd.Context(), queue); err != nil {
				return fmt.Errorf("ltqcli: clear %q: %w", queue, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis-url", "memory://", "broker URL (redis://... or memory://)")
	return cmd
}

func newSizeCmd() *cobra.Command {
	var redisURL string

	cmd := &cobra.Command{
		Use:   "size <queue>",
		Short: "Print the count of visible messages in queue",
		Args:  exactArg("queue"),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := args[0]
			br, err := openBroker(redisURL)
			if err != nil {
				return err
			}
			defer br.Close()

			n, err := br.Size(cmd.Context(), queue)
			if err != nil {
				return fmt.Errorf("ltqcli: size %q: %w", queue, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis-url", "memory://", "broker URL (redis://... or memory://)")
	return cmd
}

func openBroker(url string) (broker.Broker, error) {
	br, err := broker.FromURL(url)
	if err != nil {
		return nil, fmt.Errorf("ltqcli: %w", err)
	}
	return br, nil
}
