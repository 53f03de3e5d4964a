package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/utilitywarehouse/repo-zoek/internal/lock"
	"github.com/utilitywarehouse/repo-zoek/internal/utils"
)

var ErrRootNotCreatable = errors.New("mirror root cannot be created")

// Engine reconciles mirrors under a root dir with repository descriptors.
// Repositories are processed one at a time in input order. Concurrent calls
// are safe, a repository is never reconciled by two calls at the same time.
type Engine struct {
	Executor  Executor
	Inspector Inspector
	Log       *slog.Logger
	// GitTimeout limits every git operation if set
	GitTimeout time.Duration

	locks lock.KeyedMutex
}

func (e *Engine) log() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

// Reconcile returns a lazy sequence yielding one Outcome per descriptor.
// Per repository failures are reported as Failed outcomes. A descriptor
// source error or cancellation of ctx between repositories is yielded as
// the last element of the sequence.
// An error is returned right away if root can't be created.
func (e *Engine) Reconcile(ctx context.Context, descriptors iter.Seq2[Descriptor, error], policy Policy, root string) (iter.Seq2[Outcome, error], error) {
	if err := ensureRoot(root); err != nil {
		return nil, err
	}

	return func(yield func(Outcome, error) bool) {
		for d, err := range descriptors {
			if err != nil {
				yield(Outcome{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Outcome{}, err)
				return
			}
			if !yield(e.reconcile(ctx, d, policy, root), nil) {
				return
			}
		}
	}, nil
}

// ReconcileOne reconciles a single repository
func (e *Engine) ReconcileOne(ctx context.Context, d Descriptor, policy Policy, root string) (Outcome, error) {
	if err := ensureRoot(root); err != nil {
		return Outcome{}, err
	}
	return e.reconcile(ctx, d, policy, root), nil
}

func ensureRoot(root string) error {
	if root == "" {
		return fmt.Errorf("%w: root path is empty", ErrRootNotCreatable)
	}
	if err := os.MkdirAll(root, utils.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrRootNotCreatable, err)
	}
	return nil
}

// validName returns false for names which can't be used as a dir name
// directly under root
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, os.PathSeparator)
}

func (e *Engine) reconcile(ctx context.Context, d Descriptor, policy Policy, root string) Outcome {
	start := time.Now()
	o := e.decide(ctx, d, policy, root)
	recordOutcome(o, start)
	return o
}

func (e *Engine) decide(ctx context.Context, d Descriptor, policy Policy, root string) Outcome {
	log := e.log()

	if d.Name == "" {
		log.Warn("skipping repo, name is missing", "clone-url", d.CloneURL)
		return skipped(d, SkippedUnresolvable, "repository name is missing")
	}

	log = log.With("repo", d.Name)

	if policy.Blacklisted(d.Name) {
		log.Warn("skipping repo, blacklisted")
		return skipped(d, SkippedBlacklist, "blacklisted")
	}

	if policy.oversized(d) {
		log.Warn("skipping repo, too big", "size-kb", *d.DiskUsageKB, "max-size-kb", *policy.MaxDiskUsageKB)
		return skipped(d, SkippedOversized, fmt.Sprintf("too big (%d kb > %d kb)", *d.DiskUsageKB, *policy.MaxDiskUsageKB))
	}

	if !validName(d.Name) {
		log.Warn("skipping repo, name is not a valid dir name")
		return skipped(d, SkippedUnresolvable, fmt.Sprintf("repository name %q is not a valid dir name", d.Name))
	}

	path := filepath.Join(root, d.Name)
	log.Info("syncing repo", "size", d.size(), "path", path)

	unlock := e.locks.Lock(d.Name)
	defer unlock()

	exists := e.Inspector.Exists(root, d.Name)

	switch {
	case exists && policy.WithHistory:
		return e.updateFull(ctx, log, d, path)
	case exists:
		return e.updateShallow(ctx, log, d, root, path)
	case d.CloneURL != "" && policy.WithHistory:
		return e.clone(ctx, log, d, path, ClonedFull, "clone", d.CloneURL, path)
	case d.CloneURL != "":
		return e.clone(ctx, log, d, path, ClonedShallow,
			"clone", "--single-branch", "--filter=blob:none", "--depth=1", d.CloneURL, path)
	default:
		log.Warn("could not clone/pull repo, clone url is missing")
		return skipped(d, SkippedUnresolvable, "no local mirror and clone url is missing")
	}
}

// updateFull pulls into the existing branch keeping full history
func (e *Engine) updateFull(ctx context.Context, log *slog.Logger, d Descriptor, path string) Outcome {
	// git pull
	if res := e.run(ctx, path, "pull"); !res.OK() {
		return failed(log, d, "pull", res)
	}
	return Outcome{Name: d.Name, Action: UpdatedFull}
}

// updateShallow refreshes a shallow mirror to the latest remote commit of its
// current branch. Local changes and untracked files are discarded.
// https://stackoverflow.com/questions/41075972/how-to-update-a-git-shallow-clone
func (e *Engine) updateShallow(ctx context.Context, log *slog.Logger, d Descriptor, root, path string) Outcome {
	branch, ok := e.Inspector.CurrentBranch(ctx, root, d.Name)
	if !ok {
		log.Error("unable to determine current branch of mirror", "path", path)
		return Outcome{
			Name:     d.Name,
			Action:   Failed,
			Step:     "branch",
			ExitCode: -1,
			Detail:   "unable to determine current branch, dir is not a repository or HEAD is detached",
		}
	}

	steps := []struct {
		name string
		args []string
	}{
		// git fetch --depth 1
		{"fetch", []string{"fetch", "--depth", "1"}},
		// git reset --hard origin/<branch>
		{"reset", []string{"reset", "--hard", "origin/" + branch}},
		// git clean -dfx
		{"clean", []string{"clean", "-dfx"}},
	}
	for _, s := range steps {
		if res := e.run(ctx, path, s.args...); !res.OK() {
			return failed(log, d, s.name, res)
		}
	}
	return Outcome{Name: d.Name, Action: UpdatedShallow}
}

// clone runs git clone into path. path may already exist as a dir which is
// not a repository, git only accepts it if it's empty.
func (e *Engine) clone(ctx context.Context, log *slog.Logger, d Descriptor, path string, action Action, args ...string) Outcome {
	_, err := os.Lstat(path)
	created := errors.Is(err, fs.ErrNotExist)

	if res := e.run(ctx, "", args...); !res.OK() {
		// do not leave a partial clone behind, content of a dir which
		// existed before is never removed
		if created {
			if err := os.RemoveAll(path); err != nil {
				log.Error("unable to remove partial clone", "path", path, "err", err)
			}
		}
		return failed(log, d, "clone", res)
	}
	return Outcome{Name: d.Name, Action: action}
}

func (e *Engine) run(ctx context.Context, dir string, args ...string) utils.Result {
	if e.GitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.GitTimeout)
		defer cancel()
	}
	return e.Executor.Run(ctx, dir, args...)
}

func skipped(d Descriptor, a Action, detail string) Outcome {
	return Outcome{Name: d.Name, Action: a, Detail: detail}
}

func failed(log *slog.Logger, d Descriptor, step string, res utils.Result) Outcome {
	log.Error("git error", "step", step, "exit-code", res.ExitCode, "err", res.Err)
	detail := fmt.Sprintf("git %s failed with exit code %d", step, res.ExitCode)
	if res.Err != nil {
		detail = fmt.Sprintf("git %s failed: %v", step, res.Err)
	}
	return Outcome{Name: d.Name, Action: Failed, Step: step, ExitCode: res.ExitCode, Detail: detail}
}
