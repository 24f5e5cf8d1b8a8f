package storage

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// ObjectInfo describes one stored object as seen by a Walker.
type ObjectInfo struct {
	DiskPath  string
	SizeBytes int64
}

// DriverStats carries per-driver request counters for observability.
type DriverStats struct {
	RequestCount   int64 `json:"request_count"`
	TotalLatencyMs int64 `json:"total_latency_ms"`
}

// Driver is the uniform storage contract implemented by the local-disk and
// object-store backends. Mutating operations report success as a bool; the
// driver logs the underlying cause. Delete is idempotent: deleting an object
// that does not exist is success.
type Driver interface {
	Name() string
	Put(ctx context.Context, path string, sourceFile string) bool
	PutBytes(ctx context.Context, path string, data []byte) bool
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) bool
	Size(ctx context.Context, path string) int64
	Delete(ctx context.Context, path string) bool
	Stats() DriverStats
}

// Walker enumerates every object under a prefix. The walk is not restartable
// mid-iteration; callers that need resumability page by their own cursor.
// Returning an error from fn aborts the walk.
type Walker interface {
	Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
}

var timeNow = time.Now

// statCounter accumulates DriverStats; safe for concurrent use.
type statCounter struct {
	requests  atomic.Int64
	latencyMs atomic.Int64
}

func (s *statCounter) record(start time.Time) {
	s.requests.Add(1)
	s.latencyMs.Add(time.Since(start).Milliseconds())
}

func (s *statCounter) snapshot() DriverStats {
	return DriverStats{
		RequestCount:   s.requests.Load(),
		TotalLatencyMs: s.latencyMs.Load(),
	}
}
