package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/backend/internal/config"
)

// fakeS3 is a minimal path-style S3 endpoint over an in-memory map. Every
// request must carry a sigv4 authorization header and the amz headers the
// driver is expected to sign.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	// pageSize forces list pagination when > 0
	pageSize int
	// lastEscapedPath records the wire form of the most recent request path
	lastEscapedPath string

	t *testing.T
}

func (s *fakeS3) handler(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=") {
		s.t.Errorf("missing sigv4 authorization, got %q", auth)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if r.Header.Get("x-amz-date") == "" || r.Header.Get("x-amz-content-sha256") == "" {
		s.t.Error("missing signed amz headers")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/"+s.bucket+"/")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEscapedPath = r.URL.EscapedPath()

	// bucket-level list
	if key == "" && r.URL.Query().Get("list-type") == "2" {
		s.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		s.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := s.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case http.MethodHead:
		data, ok := s.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if _, ok := s.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	after := r.URL.Query().Get("continuation-token")

	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	truncated := false
	if s.pageSize > 0 && len(keys) > s.pageSize {
		keys = keys[:s.pageSize]
		truncated = true
	}

	type contents struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	}
	out := struct {
		XMLName               xml.Name   `xml:"ListBucketResult"`
		IsTruncated           bool       `xml:"IsTruncated"`
		NextContinuationToken string     `xml:"NextContinuationToken,omitempty"`
		Contents              []contents `xml:"Contents"`
	}{IsTruncated: truncated}
	for _, k := range keys {
		out.Contents = append(out.Contents, contents{Key: k, Size: int64(len(s.objects[k]))})
	}
	if truncated {
		out.NextContinuationToken = keys[len(keys)-1]
	}
	w.Header().Set("Content-Type", "application/xml")
	_ = xml.NewEncoder(w).Encode(out)
}

func newS3Fixture(t *testing.T, keyPrefix string, pageSize int) (*S3Driver, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "media-test", objects: map[string][]byte{}, pageSize: pageSize, t: t}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		S3Endpoint:       srv.URL,
		S3Region:         "us-east-1",
		S3Bucket:         "media-test",
		S3AccessKeyID:    "AKIDEXAMPLE",
		S3SecretKey:      "secret",
		S3UsePathStyle:   true,
		S3KeyPrefix:      keyPrefix,
		S3ConnectTimeout: time.Second,
		S3RequestTimeout: 5 * time.Second,
	}
	d, err := NewS3Driver(cfg, zerolog.Nop())
	require.NoError(t, err)
	return d, fake
}

func TestS3PutGetRoundTrip(t *testing.T) {
	d, fake := newS3Fixture(t, "", 0)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("object body"), 0o644))

	require.True(t, d.Put(ctx, "uploads/2024/03/o.jpg", src))
	assert.Equal(t, []byte("object body"), fake.objects["uploads/2024/03/o.jpg"])

	assert.True(t, d.Exists(ctx, "uploads/2024/03/o.jpg"))
	assert.Equal(t, int64(11), d.Size(ctx, "uploads/2024/03/o.jpg"))

	body, err := d.Get(ctx, "uploads/2024/03/o.jpg")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "object body", string(data))
}

func TestS3PutBytes(t *testing.T) {
	d, fake := newS3Fixture(t, "", 0)
	require.True(t, d.PutBytes(context.Background(), "uploads/x.bin", []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, fake.objects["uploads/x.bin"])
}

func TestS3KeyPrefix(t *testing.T) {
	d, fake := newS3Fixture(t, "tenant-a/", 0)
	ctx := context.Background()

	require.True(t, d.PutBytes(ctx, "uploads/y.bin", []byte("y")))
	// stored under the prefix, addressed without it
	assert.Contains(t, fake.objects, "tenant-a/uploads/y.bin")
	assert.True(t, d.Exists(ctx, "uploads/y.bin"))

	var seen []string
	require.NoError(t, d.Walk(ctx, "uploads/", func(info ObjectInfo) error {
		seen = append(seen, info.DiskPath)
		return nil
	}))
	assert.Equal(t, []string{"uploads/y.bin"}, seen)
}

func TestS3MissingObject(t *testing.T) {
	d, _ := newS3Fixture(t, "", 0)
	ctx := context.Background()

	assert.False(t, d.Exists(ctx, "uploads/nope"))
	assert.Equal(t, int64(0), d.Size(ctx, "uploads/nope"))
	_, err := d.Get(ctx, "uploads/nope")
	assert.Error(t, err)
}

func TestS3WirePathMatchesSignedEncoding(t *testing.T) {
	d, fake := newS3Fixture(t, "", 0)
	ctx := context.Background()

	// Reserved characters must reach the endpoint in the same percent form
	// the signature was computed over, not net/url's looser path escaping.
	require.True(t, d.PutBytes(ctx, "uploads/a+b=c@d.bin", []byte("payload")))
	assert.Equal(t, "/media-test/uploads/a%2Bb%3Dc%40d.bin", fake.lastEscapedPath)

	body, err := d.Get(ctx, "uploads/a+b=c@d.bin")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestS3DeleteIdempotent(t *testing.T) {
	d, _ := newS3Fixture(t, "", 0)
	ctx := context.Background()

	require.True(t, d.PutBytes(ctx, "uploads/z.bin", []byte("z")))
	assert.True(t, d.Delete(ctx, "uploads/z.bin"))
	// the backend answers 404 for the second delete; still success
	assert.True(t, d.Delete(ctx, "uploads/z.bin"))
}

func TestS3WalkPaginates(t *testing.T) {
	d, fake := newS3Fixture(t, "", 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, d.PutBytes(ctx, fmt.Sprintf("uploads/obj-%d.bin", i), []byte("x")))
	}
	fake.objects["uploads/dir/"] = nil // directory marker is skipped

	var seen []string
	require.NoError(t, d.Walk(ctx, "uploads/", func(info ObjectInfo) error {
		seen = append(seen, info.DiskPath)
		return nil
	}))
	sort.Strings(seen)
	assert.Equal(t, []string{
		"uploads/obj-0.bin", "uploads/obj-1.bin", "uploads/obj-2.bin",
		"uploads/obj-3.bin", "uploads/obj-4.bin",
	}, seen)
}

func TestS3RequiresCredentials(t *testing.T) {
	_, err := NewS3Driver(&config.Config{S3Bucket: "b"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestS3VirtualHostedAddressing(t *testing.T) {
	cfg := &config.Config{
		S3Endpoint:     "https://s3.eu-central-1.example.com",
		S3Region:       "eu-central-1",
		S3Bucket:       "media",
		S3AccessKeyID:  "k",
		S3SecretKey:    "s",
		S3UsePathStyle: false,
	}
	d, err := NewS3Driver(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "media.s3.eu-central-1.example.com", d.host)
	assert.Equal(t, "", d.basePath)

	cfg.S3UsePathStyle = true
	d, err = NewS3Driver(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "s3.eu-central-1.example.com", d.host)
	assert.Equal(t, "/media", d.basePath)
}
