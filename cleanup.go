package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/utilitywarehouse/repo-zoek/internal/utils"
)

// cleanupOrphanedRepos deletes mirrors from the repos root which are no
// longer in the repo list e.g. repositories which were deleted or
// transferred out of the organisation.
// dirs which are not git work trees are never removed.
func cleanupOrphanedRepos(ctx context.Context, reposRoot string, known map[string]bool) []string {
	entries, err := os.ReadDir(reposRoot)
	if err != nil {
		logger.Error("unable to read repos dir for clean up", "err", err)
		return nil
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || known[entry.Name()] {
			continue
		}

		fullPath := filepath.Join(reposRoot, entry.Name())

		ok, err := isWorkTreeRoot(ctx, fullPath)
		if err != nil {
			logger.Error("unable to check if git repo", "path", fullPath, "err", err)
			continue
		}
		if !ok {
			logger.Debug("skipping non repo dir", "path", fullPath)
			continue
		}

		logger.Info("removing orphaned repo dir...", "path", fullPath)
		if err := os.RemoveAll(fullPath); err != nil {
			logger.Error("unable to remove orphaned repo dir", "path", fullPath, "err", err)
			continue
		}
		removed = append(removed, entry.Name())
	}
	return removed
}

// isWorkTreeRoot returns true if cwd is the top level dir of a git work tree.
// a plain dir nested in some other repository is not a mirror.
func isWorkTreeRoot(ctx context.Context, cwd string) (bool, error) {
	if _, err := os.Stat(filepath.Join(cwd, ".git")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	// err is expected here
	output, _ := runGitCommand(ctx, cwd, "rev-parse", "--is-inside-work-tree")
	return output == "true", nil
}

// runGitCommand runs git command with given arguments on given CWD
func runGitCommand(ctx context.Context, cwd string, args ...string) (string, error) {
	output, err := utils.RunCommand(ctx, logger, nil, cwd, gitExecutablePath, args...)
	return strings.TrimSpace(output), err
}
