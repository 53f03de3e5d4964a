// Package mirror keeps a directory of local git mirrors in step with a list of
// remote repository descriptors.
//
// For every descriptor the Engine decides whether to clone, update or skip the
// repository and runs the required git operations through an Executor. Each
// repository is reconciled independently, a failure is reported as an Outcome
// and never stops the remaining repositories from being processed.
//
// Mirrors are disposable read only copies kept for indexing. In shallow mode
// an existing mirror is refreshed with
//
//	git fetch --depth 1
//	git reset --hard origin/<current branch>
//	git clean -dfx
//
// which discards any local modification. Shallow history cannot be merged with
// rewritten remote history so local drift is thrown away instead.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
//	engine := &mirror.Engine{
//		Executor:  mirror.NewGitExecutor(mirror.GitExecutorConfig{}, logger),
//		Inspector: mirror.NewGoGitInspector(logger),
//		Log:       logger.With("logger", "mirror"),
//	}
package mirror
