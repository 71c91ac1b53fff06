// Package workspace manages the on-disk tree owned by a running agent: the
// persistent repository root, the per-job working directory, and scratch
// space. It also archives a finished job's working directory through a
// pluggable archiver.
package workspace

import (
	"os"

	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/go/skerr"
	"go.testfarm.build/infra/go/sklog"
)

// Archiver produces an archive of a directory's contents, with member paths
// relative to that directory. The default implementation shells out to 7-zip;
// tests substitute their own.
type Archiver interface {
	Archive(archivePath, dir string) error
}

// Manager owns the workspace tree for one agent process. Concurrent agents
// must use disjoint roots.
type Manager struct {
	vars     *magicvars.Vars
	archiver Archiver
}

// NewManager returns a Manager rooted at the directories held by vars.
func NewManager(vars *magicvars.Vars, archiver Archiver) *Manager {
	return &Manager{
		vars:     vars,
		archiver: archiver,
	}
}

// Init creates the repos, work and temp directories of the workspace tree.
// Called once at agent startup.
func (m *Manager) Init() error {
	for _, dir := range []string{m.vars.ReposDir, m.vars.WorkDir, m.vars.TempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return skerr.Wrapf(err, "Failed to create workspace directory %s", dir)
		}
	}
	return nil
}

// CleanupWorkDir removes the working directory and recreates it empty. A
// failure to remove is logged but not fatal (a later job may still succeed in
// a partially-cleared tree); a failure to recreate is returned, since no job
// can run without a work dir.
func (m *Manager) CleanupWorkDir() error {
	workDir := m.vars.WorkDir
	sklog.Infof("Cleaning up work directory: %s", workDir)
	if _, err := os.Stat(workDir); err == nil {
		if err := os.RemoveAll(workDir); err != nil {
			sklog.Errorf("Error cleaning up work directory %s: %s", workDir, err)
		}
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return skerr.Wrapf(err, "Failed to create work directory %s", workDir)
	}
	return nil
}

// ArchiveWorkDir archives the contents of the working directory to
// archivePath. The caller decides what an archiving failure means; for tests
// it is logged and the upload skipped.
func (m *Manager) ArchiveWorkDir(archivePath string) error {
	sklog.Infof("Archiving contents of %s to %s", m.vars.WorkDir, archivePath)
	if err := m.archiver.Archive(archivePath, m.vars.WorkDir); err != nil {
		return skerr.Wrapf(err, "Failed to archive %s", m.vars.WorkDir)
	}
	return nil
}
