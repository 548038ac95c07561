// Command buildwatch runs or attaches to a build and follows its structured
// log, serving the live state over HTTP and WebSocket.
//
// Usage:
//
//	buildwatch run [flags] -- <command> [args...]
//	buildwatch attach [flags] <container>
//	buildwatch token [flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/gosuda/buildwatch/internal/config"
)

// errUsage marks errors caused by the command line rather than the build.
var errUsage = errors.New("usage") //nolint:gochecknoglobals // sentinel error

const usage = `buildwatch follows the structured log of a build.

Usage:
  buildwatch run [flags] -- <command> [args...]
  buildwatch attach [flags] <container>
  buildwatch token [flags]

Run "buildwatch <command> --help" for the flags of a command.
`

func main() {
	code, err := run(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n\n%s", err, usage)
			os.Exit(2)
		}
		log.Error().Err(err).Msg("buildwatch failed")
		os.Exit(1)
	}
	os.Exit(code)
}

// run dispatches to a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: missing command", errUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return watchCommand(rest, stdout, stderr, commandSource{})
	case "attach":
		return watchCommand(rest, stdout, stderr, &containerSource{})
	case "token":
		return 0, tokenCommand(rest, stdout, stderr)
	case "help", "-h", "--help":
		_, _ = io.WriteString(stdout, usage)
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// loadConfig loads the configuration and applies its log settings to the
// global logger.
func loadConfig(path string, stderr io.Writer) (*config.Config, error) {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log, stderr)
	return cfg, nil
}

// setupLogging writes logs to stderr; stdout carries the child's output.
func setupLogging(cfg config.LogConfig, out io.Writer) {
	zerolog.SetGlobalLevel(cfg.ZerologLevel())
	out = zerolog.SyncWriter(out)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func configFlag(fs *pflag.FlagSet) *string {
	return fs.String("config", os.Getenv(config.FileEnv), "path to a YAML configuration file")
}

// parseFlags parses args and reports whether help was requested.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %w", errUsage, err)
	}
	return false, nil
}
