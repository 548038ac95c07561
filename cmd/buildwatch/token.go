package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/gosuda/buildwatch/internal/auth"
)

// tokenCommand prints a signed API token.
func tokenCommand(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("token [flags]", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := configFlag(fs)
	subject := fs.String("subject", "buildwatch-cli", "token subject")
	role := fs.String("role", auth.RoleViewer, "token role: admin or viewer")
	ttl := fs.Duration("ttl", 0, "token lifetime (default from config)")

	help, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if help {
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}

	cfg, err := loadConfig(*cfgPath, stderr)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("token: BUILDWATCH_JWT_SECRET is not set, authentication is disabled")
	}

	lifetime := cfg.Auth.TokenTTL
	if fs.Changed("ttl") {
		lifetime = *ttl
	}

	tok, err := auth.IssueToken(cfg.Auth.JWTSecret, *subject, *role, lifetime)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, tok)
	return err
}
