// Package git fetches dependency sources from git repositories.
package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/cochaviz/depfetch/internal/deps"
	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/runner"
)

// Fetcher clones into deps-build/<name>/src/<name>, checks out the pinned
// reference on every fetch and re-applies the patch, if any, on a clean tree.
type Fetcher struct {
	// Runner applies patches with the git executable.
	Runner runner.Runner
	// Git is the git executable used for patching. Defaults to "git".
	Git    string
	Logger *slog.Logger
}

var _ deps.SourceFetcher = (*Fetcher)(nil)

// Fetch implements deps.SourceFetcher.
func (f *Fetcher) Fetch(ctx context.Context, plan deps.Plan) error {
	source, ok := plan.Spec.Fetch.(manifest.GitSource)
	if !ok {
		return fmt.Errorf("git fetcher cannot fetch %s", manifest.Describe(plan.Spec.Fetch))
	}
	logger := logging.Ensure(f.Logger).With(logging.DependencyKey, plan.Name())
	dir := plan.RepositoryDir()

	repo, err := f.open(ctx, logger, dir, source.URL)
	if err != nil {
		return err
	}

	hash, err := resolve(repo, source.Tag)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	logger.Info("checking out", "ref", source.Tag, "commit", hash.String())
	if err := worktree.Checkout(&gogit.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", source.Tag, err)
	}

	if source.Patch == "" {
		return nil
	}
	if err := worktree.Reset(&gogit.ResetOptions{Commit: *hash, Mode: gogit.HardReset}); err != nil {
		return fmt.Errorf("reset before patch: %w", err)
	}
	patch := plan.Context.Layout.Patch(source.Patch)
	logger.Info("applying patch", "patch", patch)
	return f.Runner.Run(ctx, runner.Command{
		Args: []string{f.git(), "apply", "--ignore-whitespace", patch},
		Dir:  dir,
	})
}

func (f *Fetcher) open(ctx context.Context, logger *slog.Logger, dir, url string) (*gogit.Repository, error) {
	if _, err := os.Stat(dir); err == nil {
		repo, err := gogit.PlainOpen(dir)
		if err != nil {
			return nil, fmt.Errorf("open repository %s: %w", dir, err)
		}
		return repo, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	logger.Info("cloning", "url", url, "dir", dir)
	repo, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{URL: url, Tags: gogit.AllTags})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}
	return repo, nil
}

// resolve finds the commit for a tag, branch or hash. Branches only exist as
// remote-tracking references after a clone.
func resolve(repo *gogit.Repository, ref string) (*plumbing.Hash, error) {
	candidates := []string{ref, "origin/" + ref}
	var firstErr error
	for _, candidate := range candidates {
		hash, err := repo.ResolveRevision(plumbing.Revision(candidate))
		if err == nil {
			return hash, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("resolve %q: %w", ref, firstErr)
}

func (f *Fetcher) git() string {
	if f.Git != "" {
		return f.Git
	}
	return "git"
}
