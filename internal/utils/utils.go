package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const DefaultDirMode fs.FileMode = os.FileMode(0755) // 'rwxr-xr-x'

// Result is the outcome of a single external command invocation.
// ExitCode is -1 if the process could not be started or was killed.
type Result struct {
	ExitCode int
	Err      error
	Duration time.Duration
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Streams holds the writers external commands inherit for their output.
type Streams struct {
	Stdout io.Writer
	Stderr io.Writer
}

// StdStreams passes command output through to the process's own console.
func StdStreams() Streams {
	return Streams{Stdout: os.Stdout, Stderr: os.Stderr}
}

// ExpandPath replaces a leading '~' with the user's home dir.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p != "~" && !strings.HasPrefix(p, "~"+string(os.PathSeparator)) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to expand home dir err:%w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// DirExists reports whether path exists and is a directory
func DirExists(path string) (bool, error) {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return fi.IsDir(), nil
}

// RunCommand runs given command with given arguments on given CWD and
// returns its trimmed stdout. Output is captured not streamed.
func RunCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (string, error) {

	cmdStr := command + " " + strings.Join(args, " ")
	log.Log(ctx, -8, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, command, args...)
	// force kill command & child process 5 seconds after sending it sigterm (when ctx is cancelled/timed out)
	cmd.WaitDelay = 5 * time.Second
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	if len(envs) > 0 {
		cmd.Env = append(os.Environ(), envs...)
	}

	start := time.Now()
	err := cmd.Run()
	runTime := time.Since(start)

	stdout := strings.TrimSpace(outbuf.String())
	stderr := strings.TrimSpace(errbuf.String())
	if ctx.Err() == context.DeadlineExceeded {
		err = ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("Run(%s): err:%w { stdout: %q, stderr: %q }", cmdStr, err, stdout, stderr)
	}
	log.Log(ctx, -8, "command result", "stdout", stdout, "stderr", stderr, "time", runTime)

	return stdout, nil
}

// StreamCommand runs given command on given CWD with its stdout and stderr
// attached to the given streams. Only a zero exit code counts as success.
func StreamCommand(ctx context.Context, log *slog.Logger, streams Streams, envs []string, cwd string, command string, args ...string) Result {
	cmdStr := command + " " + strings.Join(args, " ")
	log.Log(ctx, -8, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.WaitDelay = 5 * time.Second
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Stdin = nil
	cmd.Stdout = streams.Stdout
	cmd.Stderr = streams.Stderr

	if len(envs) > 0 {
		cmd.Env = append(os.Environ(), envs...)
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Err = fmt.Errorf("Run(%s): %w", cmdStr, err)
	default:
		res.ExitCode = -1
		res.Err = fmt.Errorf("Run(%s): %w", cmdStr, err)
	}
	if ctx.Err() != nil && res.Err != nil {
		res.ExitCode = -1
		res.Err = fmt.Errorf("Run(%s): %w", cmdStr, ctx.Err())
	}

	log.Log(ctx, -8, "command result", "exit-code", res.ExitCode, "time", res.Duration)
	return res
}
