// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/linebridge/bridge"
	"github.com/bureau-foundation/linebridge/lib/config"
	"github.com/bureau-foundation/linebridge/lib/fdio"
	"github.com/bureau-foundation/linebridge/lib/jid"
	"github.com/bureau-foundation/linebridge/lib/netutil"
	"github.com/bureau-foundation/linebridge/lib/privilege"
	"github.com/bureau-foundation/linebridge/lib/process"
	"github.com/bureau-foundation/linebridge/lib/secret"
	"github.com/bureau-foundation/linebridge/lib/subprocess"
	"github.com/bureau-foundation/linebridge/lib/version"
	"github.com/bureau-foundation/linebridge/session"
)

const programName = "linebridge"

func main() {
	process.Exit(run(os.Args[1:]))
}

// options is the parsed command line.
type options struct {
	configPath       string
	showDelayed      bool
	dropPrivileges   bool
	noDropPrivileges bool
	pty              bool
	verbose          bool
	showVersion      bool
	showHelp         bool
	command          []string
}

// errHelp is returned by parseFlags when usage was requested.
var errHelp = errors.New("help requested")

func parseFlags(args []string, usage io.Writer) (*options, error) {
	var parsed options
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.SetOutput(usage)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&parsed.configPath, "config", "", "path to the configuration file (default: $"+config.EnvConfig+")")
	flagSet.BoolVar(&parsed.showDelayed, "show-delayed", false, "deliver messages stored while this side was offline")
	flagSet.BoolVar(&parsed.dropPrivileges, "drop-privileges", false, "switch to the nobody account even when not started as root")
	flagSet.BoolVar(&parsed.noDropPrivileges, "no-drop-privileges", false, "keep the current account even when started as root")
	flagSet.BoolVar(&parsed.pty, "pty", false, "run the command on a pseudo-terminal instead of pipes")
	flagSet.BoolVarP(&parsed.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	flagSet.BoolVarP(&parsed.showHelp, "help", "h", false, "show help")
	flagSet.Usage = func() { printUsage(usage, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, errHelp
		}
		return nil, err
	}
	if parsed.showHelp {
		printUsage(usage, flagSet)
		return nil, errHelp
	}
	if parsed.dropPrivileges && parsed.noDropPrivileges {
		return nil, fmt.Errorf("--drop-privileges and --no-drop-privileges are mutually exclusive")
	}
	parsed.command = flagSet.Args()
	return &parsed, nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `Usage: %s [flags] [command [args...]]

Bridges lines on standard input and output (or those of command) with
messages exchanged with one peer.

Flags:
%s
Environment:
  %s  configuration file
  %s, %s, %s  identity overrides
`, programName, flagSet.FlagUsages(), config.EnvConfig, config.EnvJID, config.EnvPassword, config.EnvPeerJID)
}

// loadConfig resolves the configuration from the file (if any), the
// environment, and the command line.
func loadConfig(parsed *options, lookup func(string) (string, bool)) (*config.Config, error) {
	path := parsed.configPath
	if path == "" {
		path, _ = lookup(config.EnvConfig)
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnvironment(lookup)

	if parsed.showDelayed {
		cfg.Bridge.ShowDelayed = true
	}
	if parsed.pty {
		cfg.Bridge.PTY = true
	}
	switch {
	case parsed.dropPrivileges:
		cfg.DropPrivileges = "always"
	case parsed.noDropPrivileges:
		cfg.DropPrivileges = "never"
	}
	if parsed.verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func privilegeMode(setting string) privilege.Mode {
	switch setting {
	case "always":
		return privilege.Always
	case "never":
		return privilege.Never
	default:
		return privilege.Auto
	}
}

func run(args []string) error {
	parsed, err := parseFlags(args, os.Stderr)
	if errors.Is(err, errHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if parsed.showVersion {
		version.Print(os.Stdout, programName)
		return nil
	}

	cfg, err := loadConfig(parsed, os.LookupEnv)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, stderrIsTerminal(), cfg.Log, parsed.verbose)
	slog.SetDefault(logger)

	// The child starts with the original credentials, like a shell
	// running it directly would.
	var child *subprocess.Child
	if len(parsed.command) > 0 {
		child, err = subprocess.Start(subprocess.Options{
			Args:   parsed.command,
			PTY:    cfg.Bridge.PTY,
			Logger: logger,
		})
		if err != nil {
			return err
		}
	}

	runErr := runBridge(cfg, child, logger)
	if child == nil {
		return runErr
	}
	return finishChild(child, runErr, logger)
}

// finishChild ends the child after the bridge stopped and folds its
// exit status into the result. After a clean end of output the child
// only loses its input; after a bridge failure it is terminated, since
// nothing will read its output or feed its input again.
func finishChild(child *subprocess.Child, runErr error, logger *slog.Logger) error {
	// A child that exits with output still queued makes the next write
	// fail with EPIPE; its exit status is the result that matters.
	if runErr != nil && netutil.IsExpectedCloseError(runErr) {
		logger.Info("child closed its input", "error", runErr)
		runErr = nil
	}

	if runErr != nil {
		child.Terminate(subprocess.DefaultTerminateGrace)
	} else {
		child.CloseWrite()
	}
	code, waitErr := child.Wait()
	logger.Info("child exited", "exit_code", code)
	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return waitErr
	}
	if code != 0 {
		return &process.ExitError{Code: code}
	}
	return nil
}

// runBridge reads the password, drops privileges, connects the
// session, and runs the bridge loop until end of input.
func runBridge(cfg *config.Config, child *subprocess.Child, logger *slog.Logger) error {
	password, err := cfg.LoadPassword()
	if err != nil {
		return err
	}
	defer password.Close()

	if privilege.ShouldDrop(privilegeMode(cfg.DropPrivileges), os.Geteuid()) {
		if err := privilege.Drop(logger); err != nil {
			return err
		}
	}

	ctx := context.Background()
	if child == nil {
		// With a child, SIGINT and SIGTERM go to the child and the
		// bridge ends when its output does.
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	remote, err := dialSession(ctx, cfg, password, logger)
	if err != nil {
		return err
	}
	defer remote.Close()

	readFD, writeFD := int(os.Stdin.Fd()), int(os.Stdout.Fd())
	hangupAsEOF := false
	if child != nil {
		readFD, writeFD = child.ReadFD(), child.WriteFD()
		hangupAsEOF = child.PTY()
	}
	stream, err := fdio.New(readFD, writeFD, fdio.Options{
		NonBlockingWrite: true,
		HangupAsEOF:      hangupAsEOF,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	lineBridge := &bridge.Bridge{
		Stream:       stream,
		Session:      remote,
		Peer:         cfg.Identity.Peer,
		ShowDelayed:  cfg.Bridge.ShowDelayed,
		PollInterval: cfg.Bridge.PollInterval,
		DrainTimeout: cfg.Bridge.DrainTimeout,
		Logger:       logger,
	}
	return lineBridge.Run(ctx)
}

func dialSession(ctx context.Context, cfg *config.Config, password *secret.Buffer, logger *slog.Logger) (session.Session, error) {
	local, err := jid.Parse(cfg.Identity.JID)
	if err != nil {
		return nil, err
	}
	peer, err := jid.Parse(cfg.Identity.Peer)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendNATS:
		return session.DialNATS(ctx, session.NATSOptions{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Local:         local,
			Peer:          peer,
			Password:      password,
			Compression:   cfg.NATS.Compression,
			Logger:        logger,
		})
	case config.BackendMatrix:
		return session.DialMatrix(ctx, session.MatrixOptions{
			HomeserverURL: cfg.Matrix.Homeserver,
			Room:          cfg.Matrix.Room,
			Local:         local,
			Password:      password,
			SyncTimeout:   cfg.Matrix.SyncTimeout,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}
