// Package reposync produces a local working copy of a credential-bearing
// test repository: a fresh clone on first use, a remote-url update plus pull
// afterwards. Whole-sync attempts are retried with bounded exponential
// backoff since transient VCS-host failures are routine on a busy grid.
//
// The credentialed remote URL carries the repository token and must never
// reach the logs; every git invocation here runs silenced.
package reposync

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/go/exec"
	"go.testfarm.build/infra/go/skerr"
	"go.testfarm.build/infra/go/sklog"
)

const maxSyncRetries = 2

// Syncer clones or updates repositories under the persistent repos root.
type Syncer struct {
	vars *magicvars.Vars
	// gitBinary is "git" unless overridden for tests.
	gitBinary string
}

// NewSyncer returns a Syncer rooted at the repos dir held by vars.
func NewSyncer(vars *magicvars.Vars) *Syncer {
	return &Syncer{
		vars:      vars,
		gitBinary: "git",
	}
}

// CredentialedURL injects user:token@ into the host portion of the
// repository URL. The result is sensitive.
func CredentialedURL(repo *farmclient.Repository) (string, error) {
	u, err := url.Parse(repo.Url)
	if err != nil {
		return "", skerr.Wrapf(err, "Repository %s has an unparseable URL", repo.Name)
	}
	u.User = url.UserPassword(repo.User, repo.Token)
	return u.String(), nil
}

// Sync produces a working copy of repo at {reposDir}/{name} and returns its
// path. Failures after all retries propagate to the caller.
func (s *Syncer) Sync(ctx context.Context, repo *farmclient.Repository) (string, error) {
	sklog.Infof("Fetching %s tests repository...", repo.Name)

	localDir := filepath.Join(s.vars.ReposDir, repo.Name)
	credUrl, err := CredentialedURL(repo)
	if err != nil {
		return "", err
	}

	sync := func() error {
		if _, err := os.Stat(filepath.Join(localDir, ".git")); err == nil {
			sklog.Infof("Repository %s already exists. Pulling latest changes...", repo.Name)
			return s.pull(ctx, repo, localDir, credUrl)
		}
		sklog.Infof("Repository %s does not exist. Cloning new repository...", repo.Name)
		return s.clone(ctx, repo, localDir, credUrl)
	}
	// Sync errors are redacted by git() before they reach any log line.
	notify := func(err error, wait time.Duration) {
		sklog.Warningf("Sync of %s failed, retrying in %s: %s", repo.Name, wait, err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxSyncRetries), ctx)
	if err := backoff.RetryNotify(sync, b, notify); err != nil {
		return "", skerr.Wrapf(err, "Failed to sync repository %s", repo.Name)
	}
	sklog.Infof("Successfully synced repository %s", repo.Name)
	return localDir, nil
}

// git runs a git command silenced, and redacts the credentialed URL and
// token from any failure before it can reach a log line. The raw exec error
// is deliberately discarded: it echoes the full argument list.
func (s *Syncer) git(ctx context.Context, repo *farmclient.Repository, credUrl, dir string, args ...string) error {
	output := bytes.Buffer{}
	err := exec.Run(ctx, &exec.Command{
		Name:           s.gitBinary,
		Args:           args,
		Dir:            dir,
		CombinedOutput: &output,
		Verbose:        exec.Silent,
	})
	if err != nil {
		msg := fmt.Sprintf("%s; output:\n%s", err, output.String())
		msg = strings.ReplaceAll(msg, credUrl, repo.Url)
		if repo.Token != "" {
			msg = strings.ReplaceAll(msg, repo.Token, "***")
		}
		return skerr.Fmt("git %s failed: %s", args[0], msg)
	}
	return nil
}

func (s *Syncer) clone(ctx context.Context, repo *farmclient.Repository, localDir, credUrl string) error {
	if err := os.MkdirAll(filepath.Dir(localDir), 0755); err != nil {
		return skerr.Wrap(err)
	}
	return s.git(ctx, repo, credUrl, "", "clone", credUrl, localDir)
}

func (s *Syncer) pull(ctx context.Context, repo *farmclient.Repository, localDir, credUrl string) error {
	if err := s.git(ctx, repo, credUrl, localDir, "remote", "set-url", "origin", credUrl); err != nil {
		return err
	}
	return s.git(ctx, repo, credUrl, localDir, "pull")
}
