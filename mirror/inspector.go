package mirror

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-git/go-git/v5"

	"github.com/utilitywarehouse/repo-zoek/internal/utils"
)

// Inspector reports the local state of a mirror under root.
// CurrentBranch returns false if the branch cannot be determined, either
// because the dir is not a repository or HEAD is not on a branch.
type Inspector interface {
	Exists(root, name string) bool
	CurrentBranch(ctx context.Context, root, name string) (string, bool)
}

// GoGitInspector reads mirror state with go-git. Repositories go-git cannot
// open (e.g. unsupported repository extensions) are inspected with the git
// binary instead.
type GoGitInspector struct {
	gitBin string
	log    *slog.Logger
}

func NewGoGitInspector(log *slog.Logger) *GoGitInspector {
	if log == nil {
		log = slog.Default()
	}
	return &GoGitInspector{gitBin: exec.Command("git").String(), log: log}
}

// Exists returns true if the mirror path is the root of a git work tree.
// A plain dir, even one nested in some other repository, is not a mirror.
func (i *GoGitInspector) Exists(root, name string) bool {
	path := filepath.Join(root, name)

	if _, err := os.Lstat(filepath.Join(path, ".git")); err != nil {
		return false
	}

	_, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		i.log.Debug("mirror dir is not a git repository", "path", path)
		return false
	}
	if err != nil {
		// CurrentBranch falls back to git for repositories go-git can't read
		i.log.Debug("go-git unable to open repository", "path", path, "err", err)
	}
	return true
}

// CurrentBranch returns the short name of the checked-out branch
func (i *GoGitInspector) CurrentBranch(ctx context.Context, root, name string) (string, bool) {
	path := filepath.Join(root, name)

	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			i.log.Debug("mirror dir is not a git repository", "path", path)
			return "", false
		}
		i.log.Debug("go-git unable to open repository, using git", "path", path, "err", err)
		return i.currentBranchCLI(ctx, path)
	}

	head, err := repo.Head()
	if err != nil {
		i.log.Debug("unable to read HEAD", "path", path, "err", err)
		return "", false
	}
	if !head.Name().IsBranch() {
		i.log.Debug("HEAD is detached", "path", path, "hash", head.Hash().String())
		return "", false
	}
	return head.Name().Short(), true
}

func (i *GoGitInspector) currentBranchCLI(ctx context.Context, path string) (string, bool) {
	// git rev-parse --abbrev-ref HEAD
	out, err := utils.RunCommand(ctx, i.log, nil, path, i.gitBin, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "" || out == "HEAD" {
		return "", false
	}
	return out, true
}
