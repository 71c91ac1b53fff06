package workspace

import (
	"context"
	"os"

	"go.testfarm.build/infra/go/exec"
	"go.testfarm.build/infra/go/skerr"
)

// sevenZip archives directories by invoking the 7-zip CLI. Running with the
// source directory as CWD and adding "." keeps member paths relative to the
// directory root.
type sevenZip struct {
	ctx context.Context
	// binary is the 7-zip executable, normally "7z".
	binary string
}

// NewSevenZipArchiver returns an Archiver backed by the 7z command-line tool.
func NewSevenZipArchiver(ctx context.Context) Archiver {
	return &sevenZip{
		ctx:    ctx,
		binary: "7z",
	}
}

func (s *sevenZip) Archive(archivePath, dir string) error {
	// 7z refuses to update archives of a different type; remove any leftover
	// from a previous job first.
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return skerr.Wrapf(err, "Failed to remove stale archive %s", archivePath)
	}
	if _, err := exec.RunCommand(s.ctx, &exec.Command{
		Name: s.binary,
		Args: []string{"a", archivePath, "."},
		Dir:  dir,
	}); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}
