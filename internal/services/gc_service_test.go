package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/models"
)

func gcTestConfig() *config.Config {
	return &config.Config{
		GCScanPrefix:     "uploads/",
		GCExemptPrefixes: []string{"uploads/_quarantine/", "uploads/_cache/"},
		GCRetentionDays:  30,
	}
}

type gcFixture struct {
	gc     *GCService
	repo   *fakeRepo
	driver *fakeDriver
	audit  *fakeAudit
}

func newGCFixture(t *testing.T) *gcFixture {
	t.Helper()
	repo := newFakeRepo()
	driver := newFakeDriver()
	audit := &fakeAudit{}
	gc := NewGCService(gcTestConfig(), repo, driver, driver, audit, zerolog.Nop())
	return &gcFixture{gc: gc, repo: repo, driver: driver, audit: audit}
}

// seedLinked stores an object and its metadata row.
func (f *gcFixture) seedLinked(path string, size int, public bool, age time.Duration) *models.MediaObject {
	f.driver.put(path, make([]byte, size))
	obj := &models.MediaObject{
		DiskPath:  path,
		SizeBytes: int64(size),
		Status:    models.MediaStatusReady,
		IsPublic:  public,
		CreatedAt: time.Now().Add(-age),
	}
	f.repo.add(obj)
	return obj
}

func TestGCOrphanDeletesUnreferenced(t *testing.T) {
	f := newGCFixture(t)
	f.seedLinked("uploads/2024/01/linked.jpg", 10, false, time.Hour)
	f.driver.put("uploads/2024/01/orphan.jpg", make([]byte, 7))
	f.driver.put("uploads/_cache/deadbeef/sm_v1.jpg", make([]byte, 3))

	report, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeOrphan})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, int64(7), report.BytesFreedEstimate)

	// orphan gone, linked object and exempt cache artifact untouched
	assert.False(t, f.driver.Exists(context.Background(), "uploads/2024/01/orphan.jpg"))
	assert.True(t, f.driver.Exists(context.Background(), "uploads/2024/01/linked.jpg"))
	assert.True(t, f.driver.Exists(context.Background(), "uploads/_cache/deadbeef/sm_v1.jpg"))
}

func TestGCOrphanDefaultExemptionsSpareCache(t *testing.T) {
	// Uses config.New() defaults rather than the fixture's list: thumbnail
	// artifacts and reason markers have no metadata row, so the shipped
	// exemptions must cover uploads/_cache/ or a default run wipes them.
	repo := newFakeRepo()
	driver := newFakeDriver()
	audit := &fakeAudit{}
	gc := NewGCService(config.New(), repo, driver, driver, audit, zerolog.Nop())

	driver.put("uploads/_cache/2024/01/deadbeef/sm_v1.jpg", make([]byte, 3))
	driver.put("uploads/_cache/2024/01/deadbeef/md_v1.reason", []byte("decode-failure"))
	driver.put("uploads/_quarantine/abc.part", make([]byte, 2))

	report, err := gc.Run(context.Background(), GCOptions{Mode: GCModeOrphan})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Found)
	assert.Equal(t, 0, report.Deleted)
	assert.True(t, driver.Exists(context.Background(), "uploads/_cache/2024/01/deadbeef/sm_v1.jpg"))
	assert.True(t, driver.Exists(context.Background(), "uploads/_cache/2024/01/deadbeef/md_v1.reason"))
	assert.True(t, driver.Exists(context.Background(), "uploads/_quarantine/abc.part"))
}

func TestGCOrphanDryRun(t *testing.T) {
	f := newGCFixture(t)
	f.driver.put("uploads/2024/01/orphan.jpg", make([]byte, 7))

	report, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeOrphan, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, int64(7), report.BytesFreedEstimate)
	assert.True(t, f.driver.Exists(context.Background(), "uploads/2024/01/orphan.jpg"))

	// dry runs audit under their own event name
	entry := f.audit.last()
	require.NotNil(t, entry)
	assert.Equal(t, "gc_dry_run", entry.Action)
	assert.Equal(t, 1, entry.Details["found"])
}

func TestGCOrphanDeleteFailureAborts(t *testing.T) {
	f := newGCFixture(t)
	f.driver.put("uploads/2024/01/a-orphan.jpg", make([]byte, 1))
	f.driver.put("uploads/2024/01/b-orphan.jpg", make([]byte, 1))
	f.driver.failDelete["uploads/2024/01/a-orphan.jpg"] = true

	report, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeOrphan})
	assert.ErrorIs(t, err, ErrGCStorageDeleteFailed)

	// fail-fast: the second orphan was never reached
	assert.Equal(t, 0, report.Deleted)
	assert.True(t, f.driver.Exists(context.Background(), "uploads/2024/01/b-orphan.jpg"))

	// the aborted run is still audited, with the error attached
	entry := f.audit.last()
	require.NotNil(t, entry)
	assert.Equal(t, "gc_run", entry.Action)
	assert.Contains(t, entry.Details["aborted"], "storage delete failed")
}

func TestGCOrphanLimit(t *testing.T) {
	f := newGCFixture(t)
	f.driver.put("uploads/a.jpg", make([]byte, 1))
	f.driver.put("uploads/b.jpg", make([]byte, 1))
	f.driver.put("uploads/c.jpg", make([]byte, 1))

	report, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeOrphan, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted)
}

func TestGCRetentionSkipsPublicByDefault(t *testing.T) {
	f := newGCFixture(t)
	old := 40 * 24 * time.Hour
	private := f.seedLinked("uploads/2024/01/private.jpg", 5, false, old)
	public := f.seedLinked("uploads/2024/01/public.jpg", 5, true, old)
	fresh := f.seedLinked("uploads/2024/06/fresh.jpg", 5, false, time.Hour)

	report, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeRetention})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.False(t, f.driver.Exists(context.Background(), private.DiskPath))
	assert.True(t, f.driver.Exists(context.Background(), public.DiskPath))
	assert.True(t, f.driver.Exists(context.Background(), fresh.DiskPath))

	// the public row survives in metadata too
	got, _ := f.repo.FindByID(context.Background(), public.ID)
	assert.NotNil(t, got)
	gone, _ := f.repo.FindByID(context.Background(), private.ID)
	assert.Nil(t, gone)
}

func TestGCRetentionAllowPublicDelete(t *testing.T) {
	f := newGCFixture(t)
	old := 40 * 24 * time.Hour
	public := f.seedLinked("uploads/2024/01/public.jpg", 5, true, old)

	report, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeRetention, AllowPublicDelete: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.False(t, f.driver.Exists(context.Background(), public.DiskPath))
}

func TestGCRetentionExplicitCutoff(t *testing.T) {
	f := newGCFixture(t)
	obj := f.seedLinked("uploads/2024/01/week-old.jpg", 5, false, 7*24*time.Hour)

	// default 30-day window keeps it
	report, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeRetention})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Found)

	// an explicit cutoff overrides the window
	report, err = f.gc.Run(context.Background(), GCOptions{
		Mode:            GCModeRetention,
		RetentionCutoff: time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.False(t, f.driver.Exists(context.Background(), obj.DiskPath))
}

func TestGCRetentionDeleteFailurePreservesRow(t *testing.T) {
	f := newGCFixture(t)
	obj := f.seedLinked("uploads/2024/01/stuck.jpg", 5, false, 40*24*time.Hour)
	f.driver.failDelete[obj.DiskPath] = true

	_, err := f.gc.Run(context.Background(), GCOptions{Mode: GCModeRetention})
	assert.ErrorIs(t, err, ErrGCStorageDeleteFailed)

	// row untouched: metadata is only removed after the object is gone
	got, _ := f.repo.FindByID(context.Background(), obj.ID)
	assert.NotNil(t, got)
}

func TestGCInvalidMode(t *testing.T) {
	f := newGCFixture(t)
	_, err := f.gc.Run(context.Background(), GCOptions{Mode: GCMode("bogus")})
	assert.ErrorIs(t, err, ErrGCInvalidMode)
}
