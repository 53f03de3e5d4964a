package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/utilitywarehouse/repo-zoek/internal/utils"
)

const loadCredsScript = `#!/bin/sh

case "$1" in
  Username*) echo "$REPO_USERNAME" ;;
  Password*) echo "$REPO_PASSWORD" ;;
esac
`

// Executor runs a single git sub command. dir is the working directory of
// the command, empty dir runs it in the current directory.
type Executor interface {
	Run(ctx context.Context, dir string, args ...string) utils.Result
}

// Auth holds credentials git uses to reach remotes
type Auth struct {
	// username to use for basic or token based authentication
	Username string
	// password or personal access token to use for authentication
	Password string
	// path to the ssh key used to fetch remote
	SSHKeyPath string
	// path to the known hosts of the remote host
	SSHKnownHostsPath string
}

// GitExecutorConfig configures GitExecutor
type GitExecutorConfig struct {
	// Bin is the git executable, resolved from PATH if empty
	Bin string
	// Envs are appended to the process environment of every command
	Envs []string
	Auth Auth
	// Streams defaults to the process's stdout and stderr
	Streams *utils.Streams
}

// GitExecutor runs the git binary with output passed through to the console.
// A GitExecutor is safe for concurrent use by multiple goroutines.
type GitExecutor struct {
	bin     string
	envs    []string
	auth    Auth
	streams utils.Streams
	log     *slog.Logger

	credsOnce   sync.Once
	credsLoader string
	credsErr    error
}

// NewGitExecutor creates executor from given config
func NewGitExecutor(conf GitExecutorConfig, log *slog.Logger) *GitExecutor {
	if log == nil {
		log = slog.Default()
	}
	bin := conf.Bin
	if bin == "" {
		bin = exec.Command("git").String()
	}
	streams := utils.StdStreams()
	if conf.Streams != nil {
		streams = *conf.Streams
	}
	return &GitExecutor{
		bin:     bin,
		envs:    conf.Envs,
		auth:    conf.Auth,
		streams: streams,
		log:     log,
	}
}

// Run implements Executor
func (g *GitExecutor) Run(ctx context.Context, dir string, args ...string) utils.Result {
	envs := append([]string{"GIT_TERMINAL_PROMPT=0"}, g.envs...)
	envs = append(envs, g.authEnv()...)
	return utils.StreamCommand(ctx, g.log, g.streams, envs, dir, g.bin, args...)
}

func (g *GitExecutor) authEnv() []string {
	var envs []string

	if g.auth.SSHKeyPath != "" {
		envs = append(envs, g.gitSSHCommand())
	}

	var username, password string
	switch {
	// if username & password is set use that
	case g.auth.Username != "" && g.auth.Password != "":
		username = g.auth.Username
		password = g.auth.Password

	// if only password (token) is set use that
	case g.auth.Password != "":
		username = "-" // username is required
		password = g.auth.Password

	default:
		return envs
	}

	loader, err := g.ensureCredsLoader()
	if err != nil {
		g.log.Error("unable to write load creds script file", "err", err)
		return envs
	}

	envs = append(envs, fmt.Sprintf(`GIT_ASKPASS=%s`, loader))
	envs = append(envs, fmt.Sprintf(`REPO_USERNAME=%s`, username))
	envs = append(envs, fmt.Sprintf(`REPO_PASSWORD=%s`, password))

	return envs
}

func (g *GitExecutor) ensureCredsLoader() (string, error) {
	g.credsOnce.Do(func() {
		dir, err := os.MkdirTemp("", "repo-zoek-creds-*")
		if err != nil {
			g.credsErr = err
			return
		}
		loader := filepath.Join(dir, "creds-loader.sh")
		if err := os.WriteFile(loader, []byte(loadCredsScript), 0700); err != nil {
			g.credsErr = err
			return
		}
		g.credsLoader = loader
	})
	return g.credsLoader, g.credsErr
}

// gitSSHCommand returns the environment variable to be used for configuring
// git over ssh.
func (g *GitExecutor) gitSSHCommand() string {
	knownHostsOptions := "-o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no"
	if g.auth.SSHKnownHostsPath != "" {
		knownHostsOptions = fmt.Sprintf("-o UserKnownHostsFile=%s", g.auth.SSHKnownHostsPath)
	}
	return fmt.Sprintf(`GIT_SSH_COMMAND=ssh -q -F none -o IdentitiesOnly=yes -o IdentityFile=%s %s`, g.auth.SSHKeyPath, knownHostsOptions)
}
