package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/gosuda/buildwatch/internal/config"
	"github.com/gosuda/buildwatch/internal/notify"
	"github.com/gosuda/buildwatch/internal/proc"
	"github.com/gosuda/buildwatch/internal/session"
)

// exitCancelled is returned when the build was interrupted by a signal.
const exitCancelled = 130

// source produces the handle a watch command follows.
type source interface {
	use() string
	addFlags(fs *pflag.FlagSet)
	// open returns the handle, its default session name and a cleanup.
	open(ctx context.Context, cfg *config.Config, args []string) (session.Handle, string, func(), error)
}

// commandSource starts a local command.
type commandSource struct{}

func (commandSource) use() string { return "run [flags] -- <command> [args...]" }

func (commandSource) addFlags(*pflag.FlagSet) {}

func (commandSource) open(_ context.Context, _ *config.Config, args []string) (session.Handle, string, func(), error) {
	if len(args) == 0 {
		return nil, "", nil, fmt.Errorf("%w: run needs a command", errUsage)
	}

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec // running the user's command is the point
	cmd.Stdin = os.Stdin

	p, err := proc.FromCmd(cmd)
	if err != nil {
		return nil, "", nil, err
	}
	log.Debug().Int("pid", p.Pid()).Str("ipc_env", proc.IPCEnv).Msg("buildwatch: command started")
	return p, strings.Join(args, " "), func() {}, nil
}

// containerSource follows an existing Docker container.
type containerSource struct {
	dockerHost string
}

func (*containerSource) use() string { return "attach [flags] <container>" }

func (c *containerSource) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.dockerHost, "docker-host", "", "Docker daemon address (default from config, then DOCKER_HOST)")
}

func (c *containerSource) open(ctx context.Context, cfg *config.Config, args []string) (session.Handle, string, func(), error) {
	if len(args) != 1 {
		return nil, "", nil, fmt.Errorf("%w: attach needs exactly one container", errUsage)
	}

	host := cfg.Docker.Host
	if c.dockerHost != "" {
		host = c.dockerHost
	}

	docker, err := proc.NewDocker(host)
	if err != nil {
		return nil, "", nil, err
	}
	container, err := docker.Attach(ctx, args[0])
	if err != nil {
		_ = docker.Close()
		return nil, "", nil, err
	}
	return container, container.Name(), func() { _ = docker.Close() }, nil
}

// echoHandle copies the raw output of a handle to the terminal as the
// session reads it.
type echoHandle struct {
	session.Handle
	stdout io.Reader
	stderr io.Reader
}

func echo(h session.Handle, stdout, stderr io.Writer) session.Handle {
	return &echoHandle{
		Handle: h,
		stdout: io.TeeReader(h.Stdout(), stdout),
		stderr: io.TeeReader(h.Stderr(), stderr),
	}
}

func (h *echoHandle) Stdout() io.Reader { return h.stdout }
func (h *echoHandle) Stderr() io.Reader { return h.stderr }

func watchCommand(args []string, stdout, stderr io.Writer, src source) (int, error) {
	fs := pflag.NewFlagSet(src.use(), pflag.ContinueOnError)
	fs.SetOutput(stderr)
	// Flags after the first argument belong to the build command.
	fs.SetInterspersed(false)
	cfgPath := configFlag(fs)
	name := fs.String("name", "", "session name (default: the command line or container name)")
	listen := fs.String("listen", "", "HTTP listen address, empty to disable (default from config)")
	handshake := fs.Duration("handshake-timeout", 0, "how long to wait for the structured handshake (default from config)")
	stripANSI := fs.Bool("strip-ansi", true, "strip ANSI escape sequences from raw lines")
	linger := fs.Duration("linger", 0, "keep serving for this long after the build ends")
	quiet := fs.BoolP("quiet", "q", false, "do not echo the build output")
	src.addFlags(fs)

	help, err := parseFlags(fs, args)
	if err != nil {
		return 0, err
	}
	if help {
		return 0, nil
	}

	cfg, err := loadConfig(*cfgPath, stderr)
	if err != nil {
		return 0, err
	}
	if fs.Changed("listen") {
		cfg.Server.Addr = *listen
	}
	if fs.Changed("handshake-timeout") {
		if *handshake <= 0 {
			return 0, fmt.Errorf("%w: --handshake-timeout must be positive", errUsage)
		}
		cfg.Session.HandshakeTimeout = *handshake
	}
	if fs.Changed("strip-ansi") {
		cfg.Session.StripANSI = *stripANSI
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer a.close()

	h, label, cleanup, err := src.open(ctx, cfg, fs.Args())
	if err != nil {
		return 0, err
	}
	defer cleanup()
	if *name != "" {
		label = *name
	}
	if !*quiet {
		h = echo(h, stdout, stderr)
	}

	a.serve()

	s, err := a.manager.Start(ctx, h, label)
	if err != nil {
		return 0, err
	}
	logger := log.With().Str("session_id", s.ID().String()).Logger()
	logger.Info().Str("name", label).Msg("buildwatch: watching")

	a.manager.Wait()

	info := s.Info()
	summary := notify.Summarize(info, s.Store().Current())
	logger.Info().
		Str("verdict", summary.Verdict()).
		Str("mode", info.Mode.String()).
		Int("errors", summary.Errors).
		Int("warnings", summary.Warnings).
		Int("failed_activities", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("buildwatch: build finished")

	if *linger > 0 && a.server != nil && ctx.Err() == nil {
		logger.Info().Dur("linger", *linger).Msg("buildwatch: still serving")
		select {
		case <-ctx.Done():
		case <-time.After(*linger):
		}
	}

	return exitCode(info), nil
}

// exitCode maps a finished session to the exit code of buildwatch itself.
func exitCode(info session.Info) int {
	switch {
	case info.Status == session.StatusCancelled:
		return exitCancelled
	case info.ExitCode == nil, *info.ExitCode < 0:
		return 1
	default:
		return *info.ExitCode
	}
}
