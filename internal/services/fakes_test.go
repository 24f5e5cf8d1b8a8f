package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediavault/backend/internal/models"
	"github.com/mediavault/backend/internal/storage"
)

// fakeRepo is an in-memory MediaRepository with injectable failures.
type fakeRepo struct {
	mu      sync.Mutex
	objects map[uuid.UUID]*models.MediaObject

	createErr    error
	findErr      error
	markReadyErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{objects: map[uuid.UUID]*models.MediaObject{}}
}

func (r *fakeRepo) add(obj *models.MediaObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	r.objects[obj.ID] = obj
}

func (r *fakeRepo) Create(ctx context.Context, obj *models.MediaObject) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.add(obj)
	return nil
}

func (r *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.MediaObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects[id], nil
}

func (r *fakeRepo) FindByHash(ctx context.Context, sha256 string) (*models.MediaObject, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// ready rows take precedence over in-flight ones
	var fallback *models.MediaObject
	for _, obj := range r.objects {
		if obj.Sha256 != sha256 {
			continue
		}
		if obj.Status == models.MediaStatusReady {
			return obj, nil
		}
		if fallback == nil {
			fallback = obj
		}
	}
	return fallback, nil
}

func (r *fakeRepo) FindReadyByHash(ctx context.Context, sha256 string) (*models.MediaObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, obj := range r.objects {
		if obj.Sha256 == sha256 && obj.Status == models.MediaStatusReady {
			return obj, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindByDiskPath(ctx context.Context, diskPath string) (*models.MediaObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, obj := range r.objects {
		if obj.DiskPath == diskPath {
			return obj, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) MarkReady(ctx context.Context, id uuid.UUID) error {
	if r.markReadyErr != nil {
		return r.markReadyErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj, ok := r.objects[id]; ok {
		obj.Status = models.MediaStatusReady
		obj.QuarantinePath = ""
	}
	return nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj, ok := r.objects[id]; ok {
		obj.Status = models.MediaStatusFailed
	}
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, id)
	return nil
}

func (r *fakeRepo) sorted(filter func(*models.MediaObject) bool) []*models.MediaObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MediaObject
	for _, obj := range r.objects {
		if filter(obj) {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func paginate(rows []*models.MediaObject, afterID string, limit int) []*models.MediaObject {
	var out []*models.MediaObject
	for _, obj := range rows {
		if afterID != "" && obj.ID.String() <= afterID {
			continue
		}
		out = append(out, obj)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *fakeRepo) ListReadyOlderThan(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.MediaObject, error) {
	rows := r.sorted(func(o *models.MediaObject) bool {
		return o.Status == models.MediaStatusReady && o.CreatedAt.Before(cutoff)
	})
	return paginate(rows, afterID, limit), nil
}

func (r *fakeRepo) ListUploadingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.MediaObject, error) {
	rows := r.sorted(func(o *models.MediaObject) bool {
		return o.Status == models.MediaStatusUploading && o.CreatedAt.Before(cutoff)
	})
	return paginate(rows, "", limit), nil
}

func (r *fakeRepo) ListReadySince(ctx context.Context, since time.Time, afterID string, limit int) ([]*models.MediaObject, error) {
	rows := r.sorted(func(o *models.MediaObject) bool {
		return o.Status == models.MediaStatusReady && !o.CreatedAt.Before(since)
	})
	return paginate(rows, afterID, limit), nil
}

// fakeAudit records every logged event in order.
type auditEntry struct {
	Action   string
	TargetID string
	Details  map[string]interface{}
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *fakeAudit) Log(ctx context.Context, action, targetType, targetID string, details map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{Action: action, TargetID: targetID, Details: details})
	return nil
}

func (a *fakeAudit) last() *auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return nil
	}
	return &a.entries[len(a.entries)-1]
}

func (a *fakeAudit) byAction(action string) []auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditEntry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// fakeDriver is an in-memory storage.Driver + Walker with injectable
// failures keyed by path substring.
type fakeDriver struct {
	mu      sync.Mutex
	objects map[string][]byte

	failPut    bool
	failDelete map[string]bool

	deleted []string
	puts    []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{objects: map[string][]byte{}, failDelete: map[string]bool{}}
}

func (d *fakeDriver) put(path string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[path] = data
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Put(ctx context.Context, path string, sourceFile string) bool {
	if d.failPut {
		return false
	}
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[path] = data
	d.puts = append(d.puts, path)
	return true
}

func (d *fakeDriver) PutBytes(ctx context.Context, path string, data []byte) bool {
	if d.failPut {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[path] = append([]byte(nil), data...)
	d.puts = append(d.puts, path)
	return true
}

func (d *fakeDriver) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[path]
	if !ok {
		return nil, errors.New("fake: object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *fakeDriver) Exists(ctx context.Context, path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[path]
	return ok
}

func (d *fakeDriver) Size(ctx context.Context, path string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.objects[path]))
}

func (d *fakeDriver) Delete(ctx context.Context, path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failDelete[path] {
		return false
	}
	delete(d.objects, path)
	d.deleted = append(d.deleted, path)
	return true
}

func (d *fakeDriver) Stats() storage.DriverStats { return storage.DriverStats{} }

func (d *fakeDriver) Walk(ctx context.Context, prefix string, fn func(storage.ObjectInfo) error) error {
	d.mu.Lock()
	paths := make([]string, 0, len(d.objects))
	for p := range d.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	d.mu.Unlock()
	sort.Strings(paths)
	for _, p := range paths {
		if err := fn(storage.ObjectInfo{DiskPath: p, SizeBytes: d.Size(ctx, p)}); err != nil {
			return err
		}
	}
	return nil
}
