package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ObjectPath derives the deterministic backend-relative path for an
// original: uploads/{year}/{month}/{uuid}.{ext}. Only the creation time,
// the upload uuid and the sniffed extension participate; the client
// filename never does.
func ObjectPath(t time.Time, id uuid.UUID, ext string) string {
	return fmt.Sprintf("uploads/%04d/%02d/%s.%s", t.Year(), int(t.Month()), id.String(), ext)
}

// ThumbPath derives the cache path of a derived variant, keyed by content
// hash so deduplicated originals share their thumbnails.
func ThumbPath(t time.Time, sha256hex, variant string, algoVersion int, ext string) string {
	return fmt.Sprintf("uploads/_cache/%04d/%02d/%s/%s_v%d.%s",
		t.Year(), int(t.Month()), sha256hex, variant, algoVersion, ext)
}

// ReasonPath is the sibling marker recording why variant generation failed.
func ReasonPath(t time.Time, sha256hex, variant string, algoVersion int) string {
	return fmt.Sprintf("uploads/_cache/%04d/%02d/%s/%s_v%d.reason",
		t.Year(), int(t.Month()), sha256hex, variant, algoVersion)
}

// Orchestrator owns the quarantine area and the quarantine -> finalize
// move. The quarantine directory lives outside the public serving tree.
type Orchestrator struct {
	driver        Driver
	quarantineDir string
	log           zerolog.Logger
}

func NewOrchestrator(driver Driver, quarantineDir string, log zerolog.Logger) (*Orchestrator, error) {
	if err := os.MkdirAll(quarantineDir, 0o700); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	return &Orchestrator{
		driver:        driver,
		quarantineDir: quarantineDir,
		log:           log.With().Str("component", "storage-orchestrator").Logger(),
	}, nil
}

func (o *Orchestrator) Driver() Driver { return o.driver }

// Quarantine copies an incoming stream into the quarantine area, computing
// size and content hash on the way through.
func (o *Orchestrator) Quarantine(r io.Reader) (path string, size int64, sha256hex string, err error) {
	f, err := os.CreateTemp(o.quarantineDir, "upload-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create quarantine file: %w", err)
	}
	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", 0, "", fmt.Errorf("write quarantine file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", 0, "", err
	}
	return f.Name(), n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Discard removes a quarantine file; missing files are fine.
func (o *Orchestrator) Discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		o.log.Warn().Err(err).Str("path", path).Msg("discard quarantine failed")
	}
}

// Finalize moves a quarantine file to its final path under the driver.
// Local backends get a rename when possible; otherwise the file is written
// through the driver and the quarantine copy removed afterwards.
func (o *Orchestrator) Finalize(ctx context.Context, quarantinePath, diskPath string) bool {
	if local, ok := o.driver.(*LocalDriver); ok {
		dest := local.abs(diskPath)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err == nil {
			if err := os.Rename(quarantinePath, dest); err == nil {
				return true
			}
		}
		// fall through to copy-based finalize (cross-device rename)
	}
	if !o.driver.Put(ctx, diskPath, quarantinePath) {
		return false
	}
	o.Discard(quarantinePath)
	return true
}
