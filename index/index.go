// Package index builds the zoekt search index over the mirror root
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/utilitywarehouse/repo-zoek/internal/utils"
)

const DefaultBin = "zoekt-index"

// Indexer runs the zoekt-index binary once per repository
type Indexer struct {
	// Bin is the zoekt-index executable, DefaultBin if empty
	Bin string
	// Timeout limits indexing of a single repository if set
	Timeout time.Duration
	Log     *slog.Logger
	// Streams defaults to the process's stdout and stderr
	Streams *utils.Streams
}

// Summary is the result of an index run
type Summary struct {
	Indexed []string
	Skipped []string
	Failed  []string
}

func (ix *Indexer) log() *slog.Logger {
	if ix.Log == nil {
		return slog.Default()
	}
	return ix.Log
}

func (ix *Indexer) bin() string {
	if ix.Bin == "" {
		return DefaultBin
	}
	return ix.Bin
}

func (ix *Indexer) streams() utils.Streams {
	if ix.Streams == nil {
		return utils.StdStreams()
	}
	return *ix.Streams
}

// IndexAll indexes every directory found under reposRoot except blacklisted
// ones. Failure to index a repository is logged and the run continues.
// An error is only returned if reposRoot can't be read or indexDir can't be
// created.
func (ix *Indexer) IndexAll(ctx context.Context, reposRoot, indexDir string, blacklist []string) (Summary, error) {
	var s Summary

	indexDir, err := prepareIndexDir(indexDir)
	if err != nil {
		return s, err
	}

	entries, err := os.ReadDir(reposRoot)
	if err != nil {
		return s, fmt.Errorf("unable to read repos dir err:%w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()

		if slices.Contains(blacklist, name) {
			ix.log().Warn("skipping repo, blacklisted", "repo", name)
			s.Skipped = append(s.Skipped, name)
			continue
		}

		if err := ctx.Err(); err != nil {
			return s, err
		}

		if err := ix.index(ctx, reposRoot, indexDir, name); err != nil {
			s.Failed = append(s.Failed, name)
			continue
		}
		s.Indexed = append(s.Indexed, name)
	}

	return s, nil
}

// IndexOne indexes a single repository dir under reposRoot
func (ix *Indexer) IndexOne(ctx context.Context, reposRoot, indexDir, name string) error {
	indexDir, err := prepareIndexDir(indexDir)
	if err != nil {
		return err
	}
	exists, err := utils.DirExists(filepath.Join(reposRoot, name))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("repository dir %s not found", name)
	}
	return ix.index(ctx, reposRoot, indexDir, name)
}

func prepareIndexDir(indexDir string) (string, error) {
	abs, err := filepath.Abs(indexDir)
	if err != nil {
		return "", fmt.Errorf("unable to resolve index dir err:%w", err)
	}
	if err := os.MkdirAll(abs, utils.DefaultDirMode); err != nil {
		return "", fmt.Errorf("unable to create index dir err:%w", err)
	}
	return abs, nil
}

func (ix *Indexer) index(ctx context.Context, reposRoot, indexDir, name string) error {
	log := ix.log().With("repo", name)

	if ix.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.Timeout)
		defer cancel()
	}

	start := time.Now()
	// zoekt-index -index <abs index dir> <repo>
	res := utils.StreamCommand(ctx, log, ix.streams(), nil, reposRoot, ix.bin(), "-index", indexDir, name)
	recordIndex(name, res, start)

	if !res.OK() {
		log.Error("error while indexing repo", "exit-code", res.ExitCode, "err", res.Err)
		if res.Err != nil {
			return fmt.Errorf("unable to index %s err:%w", name, res.Err)
		}
		return fmt.Errorf("unable to index %s exit code %d", name, res.ExitCode)
	}

	log.Info("repo indexed", "duration", res.Duration)
	return nil
}
