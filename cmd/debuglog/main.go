// Program debuglog runs the local log relay: producers connect over loopback
// TCP and stream JSON log lines, which are filtered and shown either in an
// interactive terminal viewer or as plain lines on stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"debuglog/config"
	"debuglog/filter"
	"debuglog/queue"
	"debuglog/relay"
	"debuglog/sink"
	"debuglog/stats"
	"debuglog/ui"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type cliOptions struct {
	port              int
	noExcludeDownload bool
	exclude           stringList
	configPath        string
	uiMode            string
}

// Purpose: Parse command-line flags.
// Key aspects: Unset flags leave config values alone (port -1, empty ui mode).
// Upstream: main.
// Downstream: flag.FlagSet.
func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("debuglog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.port, "port", -1, fmt.Sprintf("TCP port to listen on (default %d)", relay.DefaultPort))
	fs.BoolVar(&opts.noExcludeDownload, "no-exclude-download", false, "Do not exclude download/downloadovor/downloadmanager senders")
	fs.Var(&opts.exclude, "exclude", "Additional sender substring to exclude (repeatable)")
	fs.StringVar(&opts.configPath, "config", "", "Config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	fs.StringVar(&opts.uiMode, "ui", "", "Display: auto, tview or console")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// Purpose: Layer command-line flags over the loaded config.
// Key aspects: Re-validates so a bad --port or --ui fails like a bad file.
// Upstream: main.
// Downstream: config.Validate.
func applyOverrides(cfg *config.Config, opts *cliOptions) error {
	if opts.port >= 0 {
		cfg.Listen.Port = opts.port
	}
	if opts.noExcludeDownload {
		cfg.Filter.ExcludeDownload = false
	}
	cfg.Filter.Exclude = append(cfg.Filter.Exclude, opts.exclude...)
	if strings.TrimSpace(opts.uiMode) != "" {
		cfg.UI.Mode = opts.uiMode
	}
	return cfg.Validate()
}

// Purpose: Report whether stdout is a TTY for UI gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: main UI selection.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// selectUIMode resolves auto and refuses tview without a terminal.
func selectUIMode(mode string, tty bool) string {
	switch mode {
	case config.UIModeTview:
		if !tty {
			log.Printf("UI: tview requires an interactive console; using console output")
			return config.UIModeConsole
		}
		return config.UIModeTview
	case config.UIModeConsole:
		return config.UIModeConsole
	default:
		if tty {
			return config.UIModeTview
		}
		return config.UIModeConsole
	}
}

func relayOptions(cfg *config.Config, exclusions *filter.ExclusionSet, tracker *stats.Tracker) relay.ServerOptions {
	return relay.ServerOptions{
		BindAddress:     cfg.Listen.BindAddress,
		Port:            cfg.Listen.Port,
		ReadTimeout:     cfg.Listen.ReadTimeout(),
		AcceptTimeout:   cfg.Listen.AcceptTimeout(),
		WriteTimeout:    cfg.Listen.WriteTimeout(),
		RecvBufferBytes: cfg.Listen.RecvBufferBytes,
		MaxLineBytes:    cfg.Listen.MaxLineBytes,
		MaxSessions:     cfg.Listen.MaxSessions,
		Exclusions:      exclusions,
		Stats:           tracker,
	}
}

// statusLine is the relay summary shown in the viewer footer.
func statusLine(srv *relay.Server, tracker *stats.Tracker) string {
	snap := tracker.Snapshot()
	status := fmt.Sprintf("%d sessions | %s relayed | %s excluded",
		srv.SessionCount(), humanize.Comma(int64(snap.Forwarded())), humanize.Comma(int64(snap.Excluded)))
	if srv.Err() != nil {
		status += " | LISTENER DOWN"
	}
	return status
}

// Purpose: Program entrypoint; wires config, relay, and display.
// Key aspects: Bind failure exits non-zero; SIGINT/SIGTERM or quitting the
// viewer stops the relay and prints a final summary.
// Upstream: OS process start.
// Downstream: relay.Server, sink.Console or ui.Viewer.
func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	path, explicit := config.ResolvePath(opts.configPath)
	cfg, err := config.LoadOptional(path, explicit)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if err := applyOverrides(cfg, opts); err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	diag, logErr := newDiagLog(cfg.Logging, os.Stderr)
	log.SetFlags(0)
	log.SetOutput(diag)
	defer diag.Close()
	if logErr != nil {
		log.Printf("Logging: file logging disabled: %v", logErr)
	}

	mode := selectUIMode(cfg.UI.Mode, isStdoutTTY())
	if mode == config.UIModeConsole {
		cfg.Print(os.Stderr)
	} else if cfg.LoadedFrom != "" {
		log.Printf("Loaded configuration from %s", cfg.LoadedFrom)
	}

	tracker := stats.NewTracker()
	q := queue.New(cfg.Queue.MaxItems, log.Printf)
	exclusions := filter.BuildExclusions(cfg.Filter.Exclude, cfg.Filter.ExcludeDownload)

	srv := relay.NewServer(relayOptions(cfg, exclusions, tracker), q)
	if err := srv.Start(); err != nil {
		log.Fatalf("Relay: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	diag.reportStatsFrom(func() []string { return tracker.SnapshotLines(srv.SessionCount()) })
	go diag.runStats(ctx, cfg.Stats.Interval())

	switch mode {
	case config.UIModeTview:
		viewer := ui.NewViewer(q, ui.ViewerOptions{
			MaxLines:   cfg.UI.MaxLines,
			Refresh:    cfg.UI.RefreshInterval(),
			Exclusions: exclusions,
			Status:     func() string { return statusLine(srv, tracker) },
		})
		diag.showOnViewer(viewer.SystemWriter())
		err := viewer.Run(ctx)
		diag.restoreTerminal(os.Stderr)
		if err != nil {
			log.Printf("UI: viewer error: %v", err)
		}
	default:
		log.Println("Press Ctrl+C to stop.")
		console := sink.NewConsole(os.Stdout, q, sink.ConsoleOptions{Color: cfg.UI.Color && isStdoutTTY()})
		if err := console.Run(ctx); err != nil {
			log.Printf("Console: output failed: %v", err)
		}
	}

	cancel()
	log.Println("Shutting down...")
	srv.Stop()
	diag.emitStats()
	if dropped := q.Dropped(); dropped > 0 {
		log.Printf("Queue: %s events evicted while the display lagged", humanize.Comma(int64(dropped)))
	}
}
