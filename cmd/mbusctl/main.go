package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	mmate "github.com/glimte/mmate-bus"
	"github.com/glimte/mmate-bus/config"
	"github.com/glimte/mmate-bus/contracts"
	"github.com/glimte/mmate-bus/interceptors"
	"github.com/glimte/mmate-bus/messaging"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	verbose    bool
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) newClient(cmd *cobra.Command, extra ...mmate.ClientOption) (*mmate.Client, error) {
	opts := []mmate.ClientOption{mmate.WithLogger(o.logger(cmd.ErrOrStderr()))}
	if o.configFile != "" {
		opts = append(opts, mmate.WithConfigFile(o.configFile))
	}
	return mmate.NewClientWithOptions(append(opts, extra...)...)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "mbusctl",
		Short: "Validate, exercise and inspect an in-process message bus",
		Long: `mbusctl loads a message bus configuration and runs it in process.
It validates configuration files, benchmarks destinations, sends synchronous
requests and prints destination statistics.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Bus configuration file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(
		newValidateCmd(opts),
		newBenchCmd(opts),
		newRequestCmd(opts),
		newStatsCmd(opts),
		newHealthCmd(opts),
	)
	return rootCmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration %s is valid\n", opts.configFile)
			fmt.Fprintf(out, "  Sender mode: %s\n", cfg.SenderMode())
			fmt.Fprintf(out, "  Timeout: %s\n", cfg.Timeout())
			fmt.Fprintf(out, "  Default destinations: %t\n", cfg.RegistersDefaultDestinations())
			printDestinations(out, cfg.Destinations)
			return nil
		},
	}
}

type benchOptions struct {
	destination string
	typ         string
	messages    int
	listeners   int
	work        time.Duration
	wait        time.Duration
}

func newBenchCmd(opts *rootOptions) *cobra.Command {
	b := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Send messages to a destination and report throughput",
		Long:  "Send messages to a destination with a number of listeners attached. The destination is created with --type when the configuration does not define it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts, b)
		},
	}
	cmd.Flags().StringVarP(&b.destination, "destination", "d", "bench", "Destination name")
	cmd.Flags().StringVarP(&b.typ, "type", "t", string(contracts.DestinationTypeParallel), "Destination type when not configured")
	cmd.Flags().IntVarP(&b.messages, "messages", "n", 1000, "Number of messages to send")
	cmd.Flags().IntVarP(&b.listeners, "listeners", "l", 1, "Number of listeners")
	cmd.Flags().DurationVar(&b.work, "work", 0, "Simulated processing time per delivery")
	cmd.Flags().DurationVar(&b.wait, "wait", time.Minute, "Maximum time to wait for deliveries to finish")
	return cmd
}

func runBench(cmd *cobra.Command, opts *rootOptions, b *benchOptions) error {
	if b.messages < 1 || b.listeners < 1 {
		return fmt.Errorf("--messages and --listeners must be positive")
	}

	client, err := opts.newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()
	bus := client.Bus()

	dest, ok := bus.GetDestination(b.destination)
	if !ok {
		typ, err := contracts.ParseDestinationType(b.typ)
		if err != nil {
			return err
		}
		if dest, err = bus.RegisterDestination(contracts.NewDestinationConfiguration(typ, b.destination), nil); err != nil {
			return err
		}
	}

	var delivered, rejected atomic.Int64
	if async, ok := dest.(*messaging.AsyncDestination); ok {
		async.SetRejectionHandler(contracts.RejectionHandlerFunc(func(string, *contracts.Message) {
			rejected.Add(1)
		}))
	}

	collector := interceptors.NewSimpleMetricsCollector()
	if err := bus.AddInboundMessageProcessorFactory(interceptors.NewMetricsInboundFactory(collector), contracts.NewProperties(b.destination)); err != nil {
		return err
	}
	for range b.listeners {
		listener := contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
			if b.work > 0 {
				select {
				case <-time.After(b.work):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			delivered.Add(1)
			return nil
		})
		if err := bus.AddMessageListener(listener, contracts.NewProperties(b.destination)); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	runID := uuid.NewString()
	start := time.Now()
	for i := range b.messages {
		msg := contracts.NewMessage(i)
		msg.Put("run", runID)
		if err := bus.SendMessage(ctx, b.destination, msg); err != nil {
			return err
		}
	}
	sendDuration := time.Since(start)

	if err := waitIdle(ctx, dest, b.wait); err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:          %s\n", runID)
	fmt.Fprintf(out, "Destination:  %s (%s)\n", dest.Name(), dest.Type())
	fmt.Fprintf(out, "Messages:     %d x %d listeners\n", b.messages, b.listeners)
	fmt.Fprintf(out, "Delivered:    %d\n", delivered.Load())
	fmt.Fprintf(out, "Rejected:     %d\n", rejected.Load())
	fmt.Fprintf(out, "Send time:    %s\n", sendDuration)
	fmt.Fprintf(out, "Total time:   %s\n", elapsed)
	fmt.Fprintf(out, "Throughput:   %.0f deliveries/s\n", float64(delivered.Load())/elapsed.Seconds())

	if stats, ok := collector.Summary().ProcessingStats[b.destination]; ok {
		fmt.Fprintf(out, "Latency:      avg=%s p50=%s p95=%s p99=%s max=%s\n", stats.Avg, stats.P50, stats.P95, stats.P99, stats.Max)
	}
	return nil
}

// waitIdle polls until dest has no pending or active work
func waitIdle(ctx context.Context, dest messaging.Destination, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		stats := dest.Statistics()
		if stats.PendingMessageCount == 0 && stats.ActiveThreadCount == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s to drain: %w", dest.Name(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func newRequestCmd(opts *rootOptions) *cobra.Command {
	var (
		destination string
		timeout     time.Duration
		mode        string
		echo        bool
	)
	cmd := &cobra.Command{
		Use:   "request [payload]",
		Short: "Send a synchronous request and print the reply",
		Long:  "Send a synchronous request. With --echo a responder that upper-cases the payload is attached to the destination.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			senderMode, err := messaging.ParseSenderMode(mode)
			if err != nil {
				return err
			}
			client, err := opts.newClient(cmd, mmate.WithSenderMode(senderMode))
			if err != nil {
				return err
			}
			defer client.Close()
			bus := client.Bus()

			if !bus.HasDestination(destination) {
				if _, err := bus.RegisterDestination(contracts.NewParallelDestinationConfiguration(destination), nil); err != nil {
					return err
				}
			}
			if echo {
				builders := client.Builders()
				responder := contracts.MessageListenerFunc(func(ctx context.Context, msg *contracts.Message) error {
					reply := strings.ToUpper(fmt.Sprint(msg.Payload))
					if senderMode == messaging.SenderModeDirect {
						msg.Response = reply
						return nil
					}
					return builders.CreateResponse(msg).SetPayload(reply).Send(ctx)
				})
				if err := bus.AddMessageListener(responder, contracts.NewProperties(destination)); err != nil {
					return err
				}
			}

			start := time.Now()
			reply, err := client.Builders().Create(destination).
				SetPayload(args[0]).
				SendSynchronousWithTimeout(cmd.Context(), timeout)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if reply == nil {
				fmt.Fprintln(out, "No reply (destination has no listeners)")
				return nil
			}
			fmt.Fprintf(out, "Reply: %v (%s)\n", reply, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&destination, "destination", "d", "echo", "Destination name")
	cmd.Flags().DurationVar(&timeout, "timeout", messaging.DefaultSynchronousTimeout, "Reply timeout")
	cmd.Flags().StringVar(&mode, "mode", string(messaging.SenderModeDefault), "Synchronous sender mode (DEFAULT or DIRECT)")
	cmd.Flags().BoolVar(&echo, "echo", true, "Attach an echo responder")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print destination statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			stats := make(map[string]contracts.DestinationStatistics)
			for _, dest := range client.Bus().Destinations() {
				stats[dest.Name()] = dest.Statistics()
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the bus health report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			return writeJSON(cmd.OutOrStdout(), client.Health().Check(ctx))
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printDestinations(w io.Writer, destinations []config.Destination) {
	if len(destinations) == 0 {
		fmt.Fprintln(w, "  No destinations")
		return
	}

	fmt.Fprintf(w, "\n%-40s %-12s %-8s %-6s %-6s %-6s\n", "Name", "Type", "Queue", "Core", "Max", "Rank")
	fmt.Fprintln(w, strings.Repeat("-", 82))
	for _, d := range destinations {
		dc, err := d.DestinationConfiguration()
		if err != nil {
			continue
		}
		queue := "-"
		if dc.MaxQueueSize > 0 {
			queue = fmt.Sprint(dc.MaxQueueSize)
		}
		fmt.Fprintf(w, "%-40s %-12s %-8s %-6d %-6d %-6d\n", truncate(dc.Name, 40), dc.Type, queue, dc.WorkersCoreSize, dc.WorkersMaxSize, d.Rank)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
