package resolve

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// archiveFolder zips the folder's files into dst atomically, so a farm task
// killed mid-archive never leaves a half zip for later imports to choke on.
// Entry names are slash paths relative to folder.
func archiveFolder(dst, folder string) error {
	pending, err := renameio.NewPendingFile(dst)
	if err != nil {
		return fmt.Errorf("create pending archive: %w", err)
	}
	defer pending.Cleanup()

	zw := zip.NewWriter(pending)
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		f.Close()
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("archiving %s: %w", folder, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	return nil
}
