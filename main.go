// Command walletscan tracks the remote trade analysis of a wallet and prints
// what it finds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/TeneoProtocolAI/walletscan/internal/config"
	"github.com/TeneoProtocolAI/walletscan/internal/logging"
	"github.com/TeneoProtocolAI/walletscan/pkg/version"
)

const usage = `Usage: walletscan <command> [flags] [args]

Commands:
  track [-follow] [-all] <wallet>   track a wallet's analysis until it finishes
  resume [-follow] [-all]           track the most recently tracked wallet again
  last [wallet]                     print the stored view of a wallet
  version                           print version information

Configuration is read from the environment and an optional .env file.
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "walletscan:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "version":
		fmt.Fprintln(stdout, version.GetBuildInfo())
		return nil
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logging.New(logging.Config{
		Level:       cfg.App.LogLevel,
		File:        cfg.App.LogFile,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	a := &app{cfg: cfg, log: log, stdout: stdout, stderr: stderr}

	switch cmd {
	case "track":
		opts, rest, err := parseTrackFlags("track", args, stderr)
		if err != nil {
			return err
		}
		if len(rest) != 1 {
			fmt.Fprint(stderr, usage)
			return errUsage
		}
		return a.track(ctx, rest[0], opts)

	case "resume":
		opts, rest, err := parseTrackFlags("resume", args, stderr)
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			fmt.Fprint(stderr, usage)
			return errUsage
		}
		return a.resume(ctx, opts)

	case "last":
		if len(args) > 1 {
			fmt.Fprint(stderr, usage)
			return errUsage
		}
		key := ""
		if len(args) == 1 {
			key = args[0]
		}
		return a.last(ctx, key)

	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return errUsage
	}
}

type trackOptions struct {
	follow bool // Keep tracking after the job finishes
	all    bool // Page through every result before exiting
}

func parseTrackFlags(name string, args []string, stderr io.Writer) (trackOptions, []string, error) {
	var opts trackOptions
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.follow, "follow", false, "keep tracking after the analysis finishes")
	fs.BoolVar(&opts.all, "all", false, "load every result page before exiting")
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	// Parse has already reported the problem.
	if err := fs.Parse(args); err != nil {
		return opts, nil, errUsage
	}
	return opts, fs.Args(), nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	stdout io.Writer
	stderr io.Writer
}
