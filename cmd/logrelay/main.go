// logrelay captures the output and structured logs of a process, keeps them
// in a bounded in-memory buffer, and streams them to remote observers over
// WebSocket while answering queries over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"

	"github.com/setevik/logrelay/internal/capture"
	"github.com/setevik/logrelay/internal/client"
	"github.com/setevik/logrelay/internal/config"
	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/server"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "query":
			runQuery(os.Args[2:])
			return
		case "stats":
			runStats(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "version":
			fmt.Println("logrelay", version)
			return
		}
	}

	// Default: serve.
	runServe(os.Args[1:])
}

func runServe(args []string) {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	port := fs.Int("port", 0, "query listener port (streaming uses port+1)")
	enable := fs.Bool("enable", false, "enable the console server regardless of config")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Parse(args)

	if *showVersion {
		fmt.Println("logrelay", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if fs.Changed("port") {
		cfg.Console.Port = *port
	}
	if *enable {
		cfg.Console.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	command := childCommand(fs.Args(), cfg.Capture.Command)

	base := newLogHandler(os.Stderr, cfg.Log)
	slog.SetDefault(slog.New(base))

	slog.Info("logrelay starting",
		"version", version,
		"enabled", cfg.Console.Enabled,
		"port", cfg.Console.Port,
	)

	if err := run(cfg, command, base); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, command []string, base slog.Handler) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The server logs straight to stderr; its own lines are never captured.
	srv := server.New(cfg.Console, slog.New(base))
	icpt := capture.New(srv, os.Stdout, os.Stderr)
	slog.SetDefault(slog.New(icpt.Handler(base)))

	if err := srv.Start(); err != nil {
		slog.Warn("console server not started", "error", err)
	}
	defer srv.Stop()

	icpt.Start()
	defer icpt.Stop()

	if srv.Running() {
		icpt.Console().Info(fmt.Sprintf("console: http://%s  stream: ws://%s", srv.Addr(), srv.StreamAddr()))
	}

	// Child process output is echoed through the wrapped streams.
	var (
		lines      <-chan capture.Line
		supervised *capture.SupervisedSource
	)
	if len(command) > 0 {
		supervised = capture.NewSupervisedSource(
			func() capture.LineSource {
				return capture.NewProcess(command)
			},
			cfg.Capture.RestartWait.Duration,
			cfg.Capture.MaxRestarts,
		)
		ch, err := supervised.Lines(ctx)
		if err != nil {
			return fmt.Errorf("starting child process: %w", err)
		}
		lines = ch
		slog.Info("capturing child process", "command", strings.Join(command, " "))
	}
	stdout, stderr := icpt.Stdout(), icpt.Stderr()

	sdNotify(daemon.SdNotifyReady)

	// Start watchdog ticker if WatchdogSec is configured.
	var watchdogTicker *time.Ticker
	if wdInterval := watchdogInterval(); wdInterval > 0 {
		// Ping at half the watchdog interval.
		watchdogTicker = time.NewTicker(wdInterval / 2)
		defer watchdogTicker.Stop()
		slog.Info("systemd watchdog enabled", "interval", wdInterval)
	}

	for {
		// Watchdog channel (nil if disabled, select skips nil channels).
		var watchdogCh <-chan time.Time
		if watchdogTicker != nil {
			watchdogCh = watchdogTicker.C
		}

		select {
		case line, ok := <-lines:
			if !ok {
				slog.Info("child process output closed", "error", supervised.Err())
				lines = nil
				continue
			}
			dst := stdout
			if line.Stream == capture.StreamStderr {
				dst = stderr
			}
			_, _ = io.WriteString(dst, line.Text+"\n")

		case <-watchdogCh:
			sdNotify(daemon.SdNotifyWatchdog)

		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			sdNotify(daemon.SdNotifyStopping)
			cancel()
			return nil
		}
	}
}

// childCommand picks the command given after "--" over the configured one.
func childCommand(args, configured []string) []string {
	if len(args) > 0 {
		return args
	}
	return configured
}

// --- query subcommand ---

func runQuery(args []string) {
	fs := pflag.NewFlagSet("query", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "server query address (default from config)")
	level := fs.String("level", "", "filter by level (info, warn, error, debug)")
	source := fs.String("source", "", "filter by source")
	search := fs.String("search", "", "case-insensitive message search")
	last := fs.String("last", "", "time window (e.g. 15m, 24h, 7d)")
	limit := fs.Int("limit", 50, "max entries to show (0 for all)")
	fs.Parse(args)

	setupLogging("error", "text") // quiet for CLI output

	q := client.Query{Source: *source, Search: *search}
	if *level != "" {
		l, err := entry.ParseLevel(*level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --level: %v\n", err)
			os.Exit(1)
		}
		q.Level = l
	}
	if *last != "" {
		window, err := parseDuration(*last)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --last value %q: %v\n", *last, err)
			os.Exit(1)
		}
		q.Since = time.Now().Add(-window)
	}

	target := resolveAddr(*addr, *configPath)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	entries, err := client.New(target).Logs(ctx, q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(client.FormatEntries(tail(entries, *limit)))
	if len(entries) > 0 {
		fmt.Printf("Total: %d entr%s\n", len(entries), plural(len(entries)))
	}
}

// --- stats subcommand ---

func runStats(args []string) {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "server query address (default from config)")
	fs.Parse(args)

	setupLogging("error", "text")

	target := resolveAddr(*addr, *configPath)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := client.New(target).Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(client.FormatStats(target, st))
}

// --- export subcommand ---

func runExport(args []string) {
	fs := pflag.NewFlagSet("export", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "server query address (default from config)")
	format := fs.String("format", "json", "export format (json, txt)")
	fs.Parse(args)

	setupLogging("error", "text")

	target := resolveAddr(*addr, *configPath)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	out, err := client.New(target).Export(ctx, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

// resolveAddr returns addr, or the query address from the config file with
// an empty host replaced by localhost.
func resolveAddr(addr, configPath string) string {
	if addr != "" {
		return addr
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	return queryAddr(cfg.Console)
}

func queryAddr(c config.Console) string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// tail returns the last n entries; n <= 0 means all.
func tail(entries []entry.Entry, n int) []entry.Entry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// parseDuration extends time.ParseDuration with support for "d" (days) suffix.
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		s = strings.TrimSuffix(s, "d")
		var days int
		if _, err := fmt.Sscanf(s, "%d", &days); err != nil {
			return 0, fmt.Errorf("invalid days format: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// --- sd_notify support ---

func sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		slog.Debug("sd_notify failed", "state", state, "error", err)
	}
}

// watchdogInterval returns the systemd watchdog interval, or 0 if the
// watchdog is not enabled for this process.
func watchdogInterval() time.Duration {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		slog.Debug("reading watchdog settings failed", "error", err)
		return 0
	}
	return interval
}

// --- utilities ---

func newLogHandler(w io.Writer, cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func setupLogging(level, format string) {
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, config.LogConfig{Level: level, Format: format})))
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
