package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/metrics"
)

// LocalDriver stores objects as files under a base directory. Paths are
// backend-relative slash paths; parents are created on demand.
type LocalDriver struct {
	base  string
	log   zerolog.Logger
	stats statCounter
}

func NewLocalDriver(basePath string, log zerolog.Logger) (*LocalDriver, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &LocalDriver{
		base: basePath,
		log:  log.With().Str("component", "local-driver").Logger(),
	}, nil
}

func (d *LocalDriver) Name() string { return "local" }

func (d *LocalDriver) abs(path string) string {
	return filepath.Join(d.base, filepath.FromSlash(path))
}

func (d *LocalDriver) Put(ctx context.Context, path string, sourceFile string) bool {
	defer d.observe("put")()
	src, err := os.Open(sourceFile)
	if err != nil {
		d.log.Error().Err(err).Str("source", sourceFile).Msg("put: open source failed")
		return false
	}
	defer src.Close()
	return d.write(path, src)
}

func (d *LocalDriver) PutBytes(ctx context.Context, path string, data []byte) bool {
	defer d.observe("put")()
	abs := d.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("put_bytes: mkdir failed")
		return false
	}
	tmp := abs + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("put_bytes: write failed")
		return false
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		d.log.Error().Err(err).Str("path", path).Msg("put_bytes: rename failed")
		return false
	}
	return true
}

// write copies r into path through a .part temp file and renames it into
// place so readers never observe a half-written object.
func (d *LocalDriver) write(path string, r io.Reader) bool {
	abs := d.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("put: mkdir failed")
		return false
	}
	tmp := abs + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("put: create failed")
		return false
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		d.log.Error().Err(err).Str("path", path).Msg("put: copy failed")
		return false
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		d.log.Error().Err(err).Str("path", path).Msg("put: sync failed")
		return false
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return false
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		d.log.Error().Err(err).Str("path", path).Msg("put: rename failed")
		return false
	}
	return true
}

func (d *LocalDriver) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	defer d.observe("get")()
	return os.Open(d.abs(path))
}

func (d *LocalDriver) Exists(ctx context.Context, path string) bool {
	defer d.observe("head")()
	info, err := os.Stat(d.abs(path))
	return err == nil && info.Mode().IsRegular()
}

func (d *LocalDriver) Size(ctx context.Context, path string) int64 {
	defer d.observe("head")()
	info, err := os.Stat(d.abs(path))
	if err != nil {
		return 0
	}
	return info.Size()
}

func (d *LocalDriver) Delete(ctx context.Context, path string) bool {
	defer d.observe("delete")()
	err := os.Remove(d.abs(path))
	if err != nil && !os.IsNotExist(err) {
		d.log.Error().Err(err).Str("path", path).Msg("delete failed")
		return false
	}
	return true
}

func (d *LocalDriver) Stats() DriverStats { return d.stats.snapshot() }

func (d *LocalDriver) observe(op string) func() {
	start := timeNow()
	return func() {
		d.stats.record(start)
		metrics.RecordStorageOp(d.Name(), op, timeNow().Sub(start).Seconds())
	}
}

// Walk performs a recursive walk rooted at prefix and yields every regular
// file as a backend-relative slash path.
func (d *LocalDriver) Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	root := d.abs(prefix)
	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.base, p)
		if err != nil {
			return err
		}
		return fn(ObjectInfo{DiskPath: filepath.ToSlash(rel), SizeBytes: info.Size()})
	})
}
