package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/config"
	"github.com/mediavault/backend/internal/metrics"
)

// S3Driver talks to an S3-compatible object store over plain HTTP with
// per-request sigv4 signing. Only the operations this subsystem needs are
// implemented: PUT, GET, HEAD, DELETE and paginated listing.
type S3Driver struct {
	bucket    string
	keyPrefix string
	signer    Signer
	client    *http.Client
	log       zerolog.Logger
	stats     statCounter

	// host and basePath are resolved once from configuration; the object
	// key never influences request construction.
	scheme   string
	host     string
	basePath string
}

func NewS3Driver(cfg *config.Config, log zerolog.Logger) (*S3Driver, error) {
	if cfg.S3Bucket == "" || cfg.S3AccessKeyID == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("s3 driver requires bucket and credentials")
	}

	d := &S3Driver{
		bucket:    cfg.S3Bucket,
		keyPrefix: strings.TrimPrefix(cfg.S3KeyPrefix, "/"),
		signer: Signer{
			AccessKey: cfg.S3AccessKeyID,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		},
		client: &http.Client{
			Timeout: cfg.S3RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.S3ConnectTimeout}).DialContext,
			},
		},
		log: log.With().Str("component", "s3-driver").Logger(),
	}

	endpoint := cfg.S3Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.S3Region)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 endpoint: %w", err)
	}
	d.scheme = u.Scheme
	if cfg.S3UsePathStyle {
		d.host = u.Host
		d.basePath = "/" + d.bucket
	} else {
		d.host = d.bucket + "." + u.Host
		d.basePath = ""
	}
	return d, nil
}

func (d *S3Driver) Name() string { return "s3" }

func (d *S3Driver) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if d.keyPrefix == "" {
		return path
	}
	return strings.TrimSuffix(d.keyPrefix, "/") + "/" + path
}

// do signs and executes one request against the bucket. reqPath is the
// object key ("" for bucket-level requests).
func (d *S3Driver) do(ctx context.Context, method, reqPath string, query map[string]string, body io.Reader, contentLength int64, payloadHash string) (*http.Response, error) {
	start := timeNow()
	defer func() {
		d.stats.record(start)
		metrics.RecordStorageOp(d.Name(), strings.ToLower(method), timeNow().Sub(start).Seconds())
	}()

	signPath := d.basePath + "/" + strings.TrimPrefix(reqPath, "/")
	if reqPath == "" {
		signPath = d.basePath + "/"
	}

	now := timeNow()
	headers := map[string]string{
		"host":                 d.host,
		"x-amz-content-sha256": payloadHash,
		"x-amz-date":           now.UTC().Format(amzDateFormat),
	}
	signed := d.signer.Sign(method, signPath, query, headers, payloadHash, now)

	// RawPath pins the wire encoding to the signed canonical form; the
	// default net/url escaping leaves characters like '+' and '=' bare.
	u := url.URL{Scheme: d.scheme, Host: d.host, Path: signPath, RawPath: canonicalURI(signPath)}
	if len(query) > 0 {
		u.RawQuery = canonicalQuery(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = contentLength
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", headers["x-amz-date"])
	req.Header.Set("Authorization", signed.Authorization)

	return d.client.Do(req)
}

func (d *S3Driver) Put(ctx context.Context, path string, sourceFile string) bool {
	hash, size, err := hashFile(sourceFile)
	if err != nil {
		d.log.Error().Err(err).Str("source", sourceFile).Msg("put: hash source failed")
		return false
	}
	f, err := os.Open(sourceFile)
	if err != nil {
		d.log.Error().Err(err).Str("source", sourceFile).Msg("put: open source failed")
		return false
	}
	defer f.Close()

	resp, err := d.do(ctx, http.MethodPut, d.key(path), nil, f, size, hash)
	if err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("put failed")
		return false
	}
	defer drain(resp)
	if resp.StatusCode >= 300 {
		d.log.Error().Int("status", resp.StatusCode).Str("path", path).Msg("put rejected")
		return false
	}
	return true
}

func (d *S3Driver) PutBytes(ctx context.Context, path string, data []byte) bool {
	resp, err := d.do(ctx, http.MethodPut, d.key(path), nil, strings.NewReader(string(data)), int64(len(data)), HashPayload(data))
	if err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("put_bytes failed")
		return false
	}
	defer drain(resp)
	if resp.StatusCode >= 300 {
		d.log.Error().Int("status", resp.StatusCode).Str("path", path).Msg("put_bytes rejected")
		return false
	}
	return true
}

func (d *S3Driver) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := d.do(ctx, http.MethodGet, d.key(path), nil, nil, 0, EmptyPayloadHash)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return nil, fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}

func (d *S3Driver) Exists(ctx context.Context, path string) bool {
	resp, err := d.do(ctx, http.MethodHead, d.key(path), nil, nil, 0, EmptyPayloadHash)
	if err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("head failed")
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusOK
}

func (d *S3Driver) Size(ctx context.Context, path string) int64 {
	resp, err := d.do(ctx, http.MethodHead, d.key(path), nil, nil, 0, EmptyPayloadHash)
	if err != nil {
		return 0
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return 0
	}
	return resp.ContentLength
}

func (d *S3Driver) Delete(ctx context.Context, path string) bool {
	resp, err := d.do(ctx, http.MethodDelete, d.key(path), nil, nil, 0, EmptyPayloadHash)
	if err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("delete failed")
		return false
	}
	defer drain(resp)
	// 404 counts as success: delete is idempotent.
	return resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound
}

func (d *S3Driver) Stats() DriverStats { return d.stats.snapshot() }

// listBucketResult mirrors the ListObjectsV2 response document.
type listBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	IsTruncated           bool     `xml:"IsTruncated"`
	NextContinuationToken string   `xml:"NextContinuationToken"`
	Contents              []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
}

// Walk pages through ListObjectsV2 under prefix, following the
// continuation token until the backend reports no more results. Directory
// marker keys (ending in "/") are skipped.
func (d *S3Driver) Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	token := ""
	for {
		query := map[string]string{
			"list-type": "2",
			"prefix":    d.key(prefix),
		}
		if token != "" {
			query["continuation-token"] = token
		}

		resp, err := d.do(ctx, http.MethodGet, "", query, nil, 0, EmptyPayloadHash)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return fmt.Errorf("list objects: status %d", resp.StatusCode)
		}
		var page listBucketResult
		err = xml.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("list objects: decode: %w", err)
		}

		for _, obj := range page.Contents {
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			diskPath := obj.Key
			if d.keyPrefix != "" {
				diskPath = strings.TrimPrefix(diskPath, strings.TrimSuffix(d.keyPrefix, "/")+"/")
			}
			if err := fn(ObjectInfo{DiskPath: diskPath, SizeBytes: obj.Size}); err != nil {
				return err
			}
		}

		if !page.IsTruncated || page.NextContinuationToken == "" {
			return nil
		}
		token = page.NextContinuationToken
	}
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
