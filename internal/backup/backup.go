// Package backup writes and restores tar.gz archives of metricd state: a
// consistent snapshot of the archive database, the config file and the
// script files the config references.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/HerbHall/metricd/internal/store"
)

// Archive layout.
const (
	DatabaseName = "metricd.db"
	ScriptsDir   = "scripts"
)

// ErrExists is returned by Restore when a target file exists and force is
// not set.
var ErrExists = errors.New("file already exists")

// Options selects what goes into a backup. Every field but Output is
// optional; missing config and script files are skipped.
type Options struct {
	DBPath     string
	ConfigPath string
	Scripts    []string
	Output     string
}

// Backup writes the archive described by opts.
func Backup(ctx context.Context, opts Options) error {
	if opts.Output == "" {
		return errors.New("backup: output path is required")
	}

	outFile, err := os.Create(opts.Output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if err := writeEntries(ctx, tw, opts); err != nil {
		_ = tw.Close()
		_ = gw.Close()
		_ = os.Remove(opts.Output)
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return outFile.Close()
}

func writeEntries(ctx context.Context, tw *tar.Writer, opts Options) error {
	if opts.DBPath != "" {
		snap, cleanup, err := snapshot(ctx, opts.DBPath)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := addFileToTar(tw, snap, DatabaseName); err != nil {
			return fmt.Errorf("adding database to archive: %w", err)
		}
	}

	if opts.ConfigPath != "" {
		if err := addIfExists(tw, opts.ConfigPath, filepath.Base(opts.ConfigPath)); err != nil {
			return fmt.Errorf("adding config to archive: %w", err)
		}
	}

	seen := make(map[string]bool)
	for _, script := range opts.Scripts {
		name := path.Join(ScriptsDir, filepath.Base(script))
		if seen[name] {
			continue
		}
		seen[name] = true
		if err := addIfExists(tw, script, name); err != nil {
			return fmt.Errorf("adding script %s: %w", script, err)
		}
	}
	return nil
}

// snapshot copies the live database through the store so a running daemon
// does not need to stop.
func snapshot(ctx context.Context, dbPath string) (string, func(), error) {
	if _, err := os.Stat(dbPath); err != nil {
		return "", nil, fmt.Errorf("database file not found: %w", err)
	}
	dir, err := os.MkdirTemp("", "metricd-backup-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	st, err := store.New(dbPath)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	defer st.Close()

	dst := filepath.Join(dir, DatabaseName)
	if err := st.Snapshot(ctx, dst); err != nil {
		cleanup()
		return "", nil, err
	}
	return dst, cleanup, nil
}

func addIfExists(tw *tar.Writer, filePath, archiveName string) error {
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return addFileToTar(tw, filePath, archiveName)
}

func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Restore extracts input into dir. Existing files are kept unless force is
// set; entries that would land outside dir are rejected.
func Restore(ctx context.Context, input, dir string, force bool) ([]string, error) {
	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	var restored []string
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return restored, err
		}
		if err := extract(tr, target, hdr.FileInfo().Mode().Perm(), force); err != nil {
			return restored, err
		}
		restored = append(restored, hdr.Name)
	}
}

func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the target directory", name)
	}
	return target, nil
}

func extract(r io.Reader, target string, perm os.FileMode, force bool) error {
	if _, err := os.Stat(target); err == nil && !force {
		return fmt.Errorf("%s: %w", target, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
