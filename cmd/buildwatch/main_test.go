package main

import (
	"bytes"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/buildwatch/internal/auth"
	"github.com/gosuda/buildwatch/internal/session"
)

const testSecret = "cmd-test-secret-that-is-32-chars-long"

// syncBuffer is written by the logger and the output echo at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"serve"}},
		{name: "run without command", args: []string{"run", "--listen="}},
		{name: "attach without container", args: []string{"attach", "--listen="}},
		{name: "token with argument", args: []string{"token", "extra"}},
		{name: "unknown flag", args: []string{"run", "--bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr syncBuffer
			_, err := run(tt.args, &stdout, &stderr)
			require.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr syncBuffer
	code, err := run([]string{"help"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Contains(t, stdout.String(), "buildwatch run [flags] -- <command>")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("BUILDWATCH_JWT_SECRET", testSecret)

	var stdout, stderr syncBuffer
	code, err := run([]string{"token", "--role", auth.RoleAdmin, "--subject", "deploy-bot"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Zero(t, code)

	claims, err := auth.ValidateToken(testSecret, strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	assert.Equal(t, "deploy-bot", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestTokenCommand_Errors(t *testing.T) {
	t.Run("auth disabled", func(t *testing.T) {
		var stdout, stderr syncBuffer
		_, err := run([]string{"token"}, &stdout, &stderr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BUILDWATCH_JWT_SECRET")
	})

	t.Run("unknown role", func(t *testing.T) {
		t.Setenv("BUILDWATCH_JWT_SECRET", testSecret)

		var stdout, stderr syncBuffer
		_, err := run([]string{"token", "--role", "owner"}, &stdout, &stderr)
		require.ErrorIs(t, err, auth.ErrUnknownRole)
	})
}

func TestRunCommand_ExitCodeAndEcho(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh in PATH")
	}

	var stdout, stderr syncBuffer
	code, err := run([]string{"run", "--listen=", "--", sh, "-c", "echo compiled; echo broken >&2; exit 3"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "compiled\n", stdout.String())
	assert.Contains(t, stderr.String(), "broken")
}

func TestRunCommand_Quiet(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh in PATH")
	}

	var stdout, stderr syncBuffer
	code, err := run([]string{"run", "-q", "--listen=", sh, "-c", "echo hidden"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Empty(t, stdout.String())
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	code := func(n int) *int { return &n }

	tests := []struct {
		name string
		info session.Info
		want int
	}{
		{name: "clean exit", info: session.Info{Status: session.StatusExited, ExitCode: code(0)}, want: 0},
		{name: "child code", info: session.Info{Status: session.StatusExited, ExitCode: code(2)}, want: 2},
		{name: "killed", info: session.Info{Status: session.StatusExited, ExitCode: code(-1)}, want: 1},
		{name: "no code", info: session.Info{Status: session.StatusExited}, want: 1},
		{name: "cancelled", info: session.Info{Status: session.StatusCancelled, ExitCode: code(0)}, want: exitCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, exitCode(tt.info))
		})
	}
}
